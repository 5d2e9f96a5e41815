package capture

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pepperlab/emofuse/pkg/classify"
	"github.com/pepperlab/emofuse/pkg/emotion"
)

// SpeechConfig tunes the vocal capture strategy.
type SpeechConfig struct {
	// ProbeDuration is the loudness probe length per cycle.
	ProbeDuration time.Duration
	// BurstDuration is the recording length when speech is detected.
	BurstDuration time.Duration
	// ClassifyTimeout caps a classifier round-trip.
	ClassifyTimeout time.Duration

	// Interval is the base pause between cycles. The busy-gate wait is
	// 1.5x this value.
	Interval time.Duration

	// MinThreshold is the floor for the adaptive RMS threshold.
	MinThreshold float64
	// AmbientFactor scales the ambient noise estimate into the
	// activity threshold.
	AmbientFactor float64
	// ProbeHistory is the rolling probe window used to estimate
	// ambient noise (mean of the 3 lowest readings).
	ProbeHistory int

	// QuietStreakLimit is how many consecutive quiet cycles trigger the
	// duty-cycle slowdown.
	QuietStreakLimit int
	// QuietSlowdown multiplies the cycle interval once the streak
	// limit is hit.
	QuietSlowdown float64
	// QuietThresholdRaise slightly raises the threshold floor per
	// slowdown, so a persistently noisy room stops triggering bursts.
	QuietThresholdRaise float64

	// QuietConfidence is the confidence of the neutral detection
	// emitted for a quiet cycle.
	QuietConfidence float64

	Logger *slog.Logger
}

// DefaultSpeechConfig returns the tuned vocal capture defaults.
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		ProbeDuration:       time.Second,
		BurstDuration:       4 * time.Second,
		ClassifyTimeout:     5 * time.Second,
		Interval:            2 * time.Second,
		MinThreshold:        0.010,
		AmbientFactor:       1.5,
		ProbeHistory:        10,
		QuietStreakLimit:    3,
		QuietSlowdown:       1.5,
		QuietThresholdRaise: 1.1,
		QuietConfidence:     0.25,
		Logger:              slog.Default(),
	}
}

// speechStrategy probes loudness, maintains an adaptive voice-activity
// threshold, and only records a classification burst when the probe
// exceeds it. Quiet cycles still emit a low-confidence neutral so the
// fusion side has a data point.
type speechStrategy struct {
	cfg    SpeechConfig
	source AudioSource
	cls    classify.Classifier
	room   string
	logger *slog.Logger

	probes      []float64
	quietStreak int
	slowed      bool
	minFloor    float64
}

// NewSpeechScheduler builds the vocal capture scheduler.
func NewSpeechScheduler(svc Service, source AudioSource, cls classify.Classifier, room string, cfg SpeechConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	strat := &speechStrategy{
		cfg:      cfg,
		source:   source,
		cls:      cls,
		room:     room,
		logger:   cfg.Logger.With("component", "capture.speech", "room", room),
		minFloor: cfg.MinThreshold,
	}
	gateBackoff := time.Duration(1.5 * float64(cfg.Interval))
	return newScheduler(svc, room, emotion.Speech, strat, gateBackoff, cfg.Logger)
}

// interval applies the duty-cycle slowdown while the room stays quiet.
func (s *speechStrategy) interval() time.Duration {
	if s.slowed {
		return time.Duration(float64(s.cfg.Interval) * s.cfg.QuietSlowdown)
	}
	return s.cfg.Interval
}

func (s *speechStrategy) cycle(ctx context.Context) (*emotion.Detection, error) {
	probe, err := s.source.Record(ctx, s.cfg.ProbeDuration)
	if err != nil {
		return nil, err
	}

	energy := RMS(probe)
	threshold := s.threshold()
	s.recordProbe(energy)

	if energy < threshold {
		s.quiet(energy, threshold)
		det := emotion.Detection{
			Room:       s.room,
			Modality:   emotion.Speech,
			Label:      emotion.Neutral,
			Confidence: s.cfg.QuietConfidence,
			Timestamp:  time.Now(),
		}
		return &det, nil
	}

	// Voice activity: record the full burst and classify it.
	burst, err := s.source.Record(ctx, s.cfg.BurstDuration)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ClassifyTimeout)
	defer cancel()
	res, err := s.cls.Classify(cctx, pcmBytes(burst))
	if err != nil {
		return nil, err
	}

	s.quietStreak = 0
	s.slowed = false

	det := emotion.NewDetection(s.room, emotion.Speech, res.Label, res.Confidence)
	s.logger.Debug("speech burst classified",
		"label", det.Label,
		"confidence", det.Confidence,
		"energy", energy,
		"threshold", threshold,
	)
	return &det, nil
}

// threshold computes the adaptive activity threshold:
// max(floor, AmbientFactor x ambient noise), where ambient noise is the
// mean of the three lowest probe readings in the rolling window.
func (s *speechStrategy) threshold() float64 {
	if len(s.probes) < 3 {
		return s.minFloor
	}

	sorted := make([]float64, len(s.probes))
	copy(sorted, s.probes)
	sort.Float64s(sorted)

	ambient := (sorted[0] + sorted[1] + sorted[2]) / 3
	t := s.cfg.AmbientFactor * ambient
	if t < s.minFloor {
		return s.minFloor
	}
	return t
}

func (s *speechStrategy) recordProbe(energy float64) {
	s.probes = append(s.probes, energy)
	if len(s.probes) > s.cfg.ProbeHistory {
		s.probes = s.probes[len(s.probes)-s.cfg.ProbeHistory:]
	}
}

// quiet updates the quiet streak, slowing the cadence and nudging up
// the threshold floor once the streak limit is reached.
func (s *speechStrategy) quiet(energy, threshold float64) {
	s.quietStreak++
	if s.quietStreak >= s.cfg.QuietStreakLimit && !s.slowed {
		s.slowed = true
		s.minFloor *= s.cfg.QuietThresholdRaise
		s.logger.Debug("quiet streak, slowing cadence",
			"streak", s.quietStreak,
			"new_floor", s.minFloor,
		)
	}
	s.logger.Debug("quiet probe",
		"energy", energy,
		"threshold", threshold,
		"streak", s.quietStreak,
	)
}

// pcmBytes flattens PCM16 samples to little-endian bytes for the wire.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
