// Package capture implements the client-side capture schedulers that
// turn continuous media streams into discrete emotion detections. Each
// modality runs its own strictly sequential cycle loop; the two loops
// are fully independent of each other. Every cycle checks the actuator
// availability gate first, and classifier failures degrade to synthetic
// low-confidence neutral detections under exponential backoff rather
// than halting the pipeline.
package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/pepperlab/emofuse/pkg/emotion"
)

// SyntheticConfidence is the confidence assigned to synthetic neutral
// detections emitted while the classifier is failing, so downstream
// fusion is never starved indefinitely.
const SyntheticConfidence = 0.2

// cycler is one modality's capture strategy, driven by the Scheduler
// loop. A (nil, nil) cycle result means the cycle produced nothing
// usable and is silently skipped.
type cycler interface {
	cycle(ctx context.Context) (*emotion.Detection, error)
	// interval returns the delay before the next cycle. Strategies may
	// vary it (duty-cycle backoff on quiet audio).
	interval() time.Duration
}

// Scheduler runs one modality's capture loop against the server.
type Scheduler struct {
	svc      Service
	room     string
	modality emotion.Modality
	strategy cycler

	// gateBackoff is the wait applied when the actuator is busy or the
	// gate cannot be checked.
	gateBackoff time.Duration

	backoff *Backoff
	logger  *slog.Logger
}

func newScheduler(svc Service, room string, mod emotion.Modality, strategy cycler, gateBackoff time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		svc:         svc,
		room:        room,
		modality:    mod,
		strategy:    strategy,
		gateBackoff: gateBackoff,
		backoff:     DefaultBackoff(),
		logger:      logger.With("component", "capture", "modality", mod, "room", room),
	}
}

// Run executes capture cycles until the context is cancelled. Cycle
// n+1 never starts before cycle n's capture, classification, and ingest
// have completed.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("capture scheduler started")
	defer s.logger.Info("capture scheduler stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		avail, err := s.svc.Available(ctx, s.room)
		if err != nil {
			s.logger.Warn("gate check failed, skipping cycle", "error", err)
			if !sleep(ctx, s.gateBackoff) {
				return
			}
			continue
		}
		if !avail {
			s.logger.Debug("actuator busy, skipping cycle")
			if !sleep(ctx, s.gateBackoff) {
				return
			}
			continue
		}

		det, err := s.strategy.cycle(ctx)
		if ctx.Err() != nil {
			// An aborted cycle yields nothing; state stays clean.
			return
		}

		if err != nil {
			delay := s.backoff.Next()
			s.logger.Warn("capture cycle failed",
				"error", err,
				"consecutive_failures", s.backoff.Failures(),
				"retry_in", delay,
			)
			s.emitSynthetic(ctx)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		s.backoff.Reset()

		if det != nil {
			if err := s.svc.Ingest(ctx, *det); err != nil {
				s.logger.Warn("ingest failed", "error", err)
			} else {
				s.logger.Debug("detection ingested",
					"label", det.Label,
					"confidence", det.Confidence,
				)
			}
		}

		if !sleep(ctx, s.strategy.interval()) {
			return
		}
	}
}

// emitSynthetic ingests a low-confidence neutral detection so fusion
// still has a data point while the classifier is down.
func (s *Scheduler) emitSynthetic(ctx context.Context) {
	det := emotion.Detection{
		Room:       s.room,
		Modality:   s.modality,
		Label:      emotion.Neutral,
		Confidence: SyntheticConfidence,
		Timestamp:  time.Now(),
	}
	if err := s.svc.Ingest(ctx, det); err != nil {
		s.logger.Warn("synthetic ingest failed", "error", err)
	}
}

// sleep waits for d or until the context is cancelled. Returns false on
// cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
