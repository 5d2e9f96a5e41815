package fusion

import (
	"context"
	"errors"
	"time"
)

// DefaultCadence is the fixed fusion attempt interval.
const DefaultCadence = time.Second

// RunCadence attempts fusion for the room on a fixed cadence until the
// context is cancelled. A tick only fuses when the buffer holds fresh
// detections for both modalities and the gate is Available; everything
// else is a silent skip. Rejections are published by Fuse itself.
func (e *Engine) RunCadence(ctx context.Context, room string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCadence
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("fusion cadence started", "room", room, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("fusion cadence stopped", "room", room)
			return
		case <-ticker.C:
			if !e.store.Stats(room).HasBoth || !e.gate.Available(room) {
				continue
			}
			if _, err := e.Fuse(room); err != nil {
				if errors.Is(err, ErrRejected) || errors.Is(err, ErrNoData) || errors.Is(err, ErrGateBusy) {
					continue
				}
				e.logger.Warn("cadence fusion failed", "room", room, "error", err)
			}
		}
	}
}
