package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pepperlab/emofuse/pkg/classify"
	"github.com/pepperlab/emofuse/pkg/emotion"
)

// FaceConfig tunes the visual capture strategy.
type FaceConfig struct {
	// WindowFrames is how many frames one cycle captures.
	WindowFrames int
	// WindowDuration is the span the frames are spread over.
	WindowDuration time.Duration
	// BatchSize bounds how many frames are classified in parallel.
	BatchSize int
	// ClassifyTimeout caps a single classifier round-trip.
	ClassifyTimeout time.Duration

	// Interval is the pause between cycles.
	Interval time.Duration
	// GateBackoff is the wait when the actuator is busy.
	GateBackoff time.Duration

	// ConfidenceFloor is the default per-frame confidence floor; frames
	// below their label's floor are coerced to neutral before voting.
	ConfidenceFloor float64
	// StrictFloor applies to labels prone to false positives
	// (surprise, fear, disgust).
	StrictFloor float64

	Logger *slog.Logger
}

// DefaultFaceConfig returns the tuned visual capture defaults:
// 60 frames over 4 seconds (~15 samples/sec).
func DefaultFaceConfig() FaceConfig {
	return FaceConfig{
		WindowFrames:    60,
		WindowDuration:  4 * time.Second,
		BatchSize:       8,
		ClassifyTimeout: 5 * time.Second,
		Interval:        2 * time.Second,
		GateBackoff:     2 * time.Second,
		ConfidenceFloor: 0.35,
		StrictFloor:     0.55,
		Logger:          slog.Default(),
	}
}

// faceStrategy captures a frame window, classifies each frame, and
// aggregates by majority vote.
type faceStrategy struct {
	cfg    FaceConfig
	source FrameSource
	cls    classify.Classifier
	room   string
	logger *slog.Logger
}

// NewFaceScheduler builds the visual capture scheduler.
func NewFaceScheduler(svc Service, source FrameSource, cls classify.Classifier, room string, cfg FaceConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	strat := &faceStrategy{
		cfg:    cfg,
		source: source,
		cls:    cls,
		room:   room,
		logger: cfg.Logger.With("component", "capture.face", "room", room),
	}
	return newScheduler(svc, room, emotion.Face, strat, cfg.GateBackoff, cfg.Logger)
}

func (f *faceStrategy) interval() time.Duration { return f.cfg.Interval }

// cycle captures the window, classifies frames in bounded parallel
// batches, and majority-votes the result. Zero usable frames produce no
// detection (nil, nil); that is a quiet skip, not an error.
func (f *faceStrategy) cycle(ctx context.Context) (*emotion.Detection, error) {
	frames, err := f.captureWindow(ctx)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}

	votes, err := f.classifyFrames(ctx, frames)
	if err != nil {
		return nil, err
	}
	return f.aggregate(votes), nil
}

func (f *faceStrategy) captureWindow(ctx context.Context) ([][]byte, error) {
	gap := f.cfg.WindowDuration / time.Duration(f.cfg.WindowFrames)
	frames := make([][]byte, 0, f.cfg.WindowFrames)

	for i := 0; i < f.cfg.WindowFrames; i++ {
		frame, err := f.source.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A dropped frame shrinks the window; the vote adapts.
			continue
		}
		frames = append(frames, frame)

		if i < f.cfg.WindowFrames-1 {
			if !sleep(ctx, gap) {
				return nil, ctx.Err()
			}
		}
	}
	return frames, nil
}

// classifyFrames runs the classifier over the window in batches of
// BatchSize to bound latency. Individual frame failures are dropped;
// the cycle only fails when every frame fails.
func (f *faceStrategy) classifyFrames(ctx context.Context, frames [][]byte) ([]classify.Classification, error) {
	results := make([]*classify.Classification, len(frames))
	var lastErr error
	var errMu sync.Mutex

	batch := f.cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}

	for start := 0; start < len(frames); start += batch {
		end := start + batch
		if end > len(frames) {
			end = len(frames)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				cctx, cancel := context.WithTimeout(ctx, f.cfg.ClassifyTimeout)
				defer cancel()
				res, err := f.cls.Classify(cctx, frames[idx])
				if err != nil {
					errMu.Lock()
					lastErr = err
					errMu.Unlock()
					return
				}
				results[idx] = res
			}(i)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	usable := make([]classify.Classification, 0, len(results))
	for _, r := range results {
		if r != nil {
			usable = append(usable, *r)
		}
	}
	if len(usable) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, nil
	}
	return usable, nil
}

// floor returns the per-frame confidence floor for a label.
func (f *faceStrategy) floor(label emotion.Label) float64 {
	switch label {
	case emotion.Surprise, emotion.Fear, emotion.Disgust:
		return f.cfg.StrictFloor
	default:
		return f.cfg.ConfidenceFloor
	}
}

// aggregate majority-votes the frame classifications. Frames under
// their label's floor are coerced to neutral first. The winner's
// confidence is the mean over its own frames, boosted by consensus:
// conf *= 0.7 + 0.3 * (votes/total).
func (f *faceStrategy) aggregate(votes []classify.Classification) *emotion.Detection {
	if len(votes) == 0 {
		return nil
	}

	type tally struct {
		count   int
		confSum float64
	}
	counts := make(map[emotion.Label]*tally)

	for _, v := range votes {
		label := emotion.Normalize(v.Label)
		conf := emotion.Clamp(v.Confidence)
		if conf < f.floor(label) {
			label = emotion.Neutral
		}
		t, ok := counts[label]
		if !ok {
			t = &tally{}
			counts[label] = t
		}
		t.count++
		t.confSum += conf
	}

	var winner emotion.Label
	var best *tally
	for _, label := range emotion.Labels {
		t, ok := counts[label]
		if !ok {
			continue
		}
		if best == nil || t.count > best.count {
			winner = label
			best = t
		}
	}
	if best == nil {
		return nil
	}

	ratio := float64(best.count) / float64(len(votes))
	conf := (best.confSum / float64(best.count)) * (0.7 + 0.3*ratio)

	det := emotion.Detection{
		Room:           f.room,
		Modality:       emotion.Face,
		Label:          winner,
		Confidence:     emotion.Clamp(conf),
		Timestamp:      time.Now(),
		FrameCount:     len(votes),
		ConsensusRatio: ratio,
	}
	f.logger.Debug("face window aggregated",
		"label", det.Label,
		"confidence", det.Confidence,
		"frames", det.FrameCount,
		"consensus", det.ConsensusRatio,
	)
	return &det
}
