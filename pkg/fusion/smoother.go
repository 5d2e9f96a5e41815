package fusion

import (
	"sync"
	"time"

	"github.com/pepperlab/emofuse/pkg/emotion"
)

// smoother applies temporal filtering over consecutive fusion results
// for a room: consistent labels gain confidence, outliers lose it, and
// label changes arriving too soon after the previous result are held
// back to the previous label. Changes to neutral are always allowed so
// the system can relax quickly.
type smoother struct {
	cfg SmoothingConfig

	mu      sync.Mutex
	history map[string][]historyEntry
}

type historyEntry struct {
	label      emotion.Label
	confidence float64
	at         time.Time
}

func newSmoother(cfg SmoothingConfig) *smoother {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 8
	}
	return &smoother{
		cfg:     cfg,
		history: make(map[string][]historyEntry),
	}
}

// apply adjusts the result against the room's history and records the
// outcome. The returned result may carry the previous label when a
// change is held back.
func (s *smoother) apply(res *Result, now time.Time) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.history[res.Room]
	if len(hist) >= 2 {
		last := hist[len(hist)-1]
		changed := res.Emotion != last.label

		if changed && res.Emotion != emotion.Neutral {
			// Hold: too soon after the previous label.
			if now.Sub(last.at) < s.cfg.MinHold {
				res.Emotion = last.label
				res.Confidence = last.confidence
				changed = false
			} else if res.Confidence < s.cfg.MinChangeConfidence {
				// A label switch needs real confidence behind it.
				res.Emotion = last.label
				res.Confidence = last.confidence
				changed = false
			}
		}

		if changed {
			if s.isOutlier(hist, res.Emotion, 3) {
				res.Confidence = emotion.Clamp(res.Confidence * s.cfg.OutlierPenalty)
			}
		} else {
			switch {
			case s.isConsistent(hist, res.Emotion, 4):
				res.Confidence = emotion.Clamp(res.Confidence * s.cfg.StrongConsistencyBoost)
			case s.isConsistent(hist, res.Emotion, 2):
				res.Confidence = emotion.Clamp(res.Confidence * s.cfg.ConsistencyBoost)
			}
		}
	}

	hist = append(hist, historyEntry{res.Emotion, res.Confidence, now})
	if len(hist) > s.cfg.HistorySize {
		hist = hist[len(hist)-s.cfg.HistorySize:]
	}
	s.history[res.Room] = hist
	return res
}

// isConsistent reports whether the last n entries all carry the label.
func (s *smoother) isConsistent(hist []historyEntry, label emotion.Label, n int) bool {
	if len(hist) < n {
		return false
	}
	for _, h := range hist[len(hist)-n:] {
		if h.label != label {
			return false
		}
	}
	return true
}

// isOutlier reports whether the label differs from all of the last n.
func (s *smoother) isOutlier(hist []historyEntry, label emotion.Label, n int) bool {
	if len(hist) < n {
		return false
	}
	for _, h := range hist[len(hist)-n:] {
		if h.label == label {
			return false
		}
	}
	return true
}

func (s *smoother) clear(room string) {
	s.mu.Lock()
	delete(s.history, room)
	s.mu.Unlock()
}
