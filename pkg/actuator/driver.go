package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pepperlab/emofuse/pkg/delivery"
	"github.com/pepperlab/emofuse/pkg/emotion"
	"github.com/pepperlab/emofuse/pkg/fusion"
)

// Driver maps fused emotions to gesture scripts and drives the robot.
type Driver struct {
	robot    Robot
	reporter Reporter
	gestures map[emotion.Label]Gesture
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) bool
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithGestures overrides the emotion-to-gesture table.
func WithGestures(table map[emotion.Label]Gesture) DriverOption {
	return func(d *Driver) { d.gestures = table }
}

// WithDriverLogger sets the logger.
func WithDriverLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// NewDriver creates a driver around a robot and a completion reporter.
func NewDriver(robot Robot, reporter Reporter, opts ...DriverOption) *Driver {
	d := &Driver{
		robot:    robot,
		reporter: reporter,
		gestures: defaultGestures,
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "actuator")
	return d
}

// Perform plays the gesture for one accepted result and reports
// completion. A robot failure still reports completion so the gate
// reopens and sensing resumes; the error is returned for logging.
func (d *Driver) Perform(ctx context.Context, res *fusion.Result) error {
	gesture, ok := d.gestures[res.Emotion]
	if !ok {
		gesture = d.gestures[emotion.Neutral]
	}

	d.logger.Info("playing gesture",
		"room", res.Room,
		"emotion", res.Emotion,
		"script", gesture.Script,
		"confidence", res.Confidence,
	)

	if err := d.robot.Play(ctx, gesture.Script, res.Room); err != nil {
		d.complete(res.Room)
		return fmt.Errorf("actuator: play %s: %w", gesture.Script, err)
	}

	// The proxy acks acceptance only; completion is the script
	// duration elapsing.
	if !d.sleep(ctx, gesture.Duration) {
		d.complete(res.Room)
		return ctx.Err()
	}

	d.complete(res.Room)
	d.logger.Debug("gesture finished", "room", res.Room, "script", gesture.Script)
	return nil
}

// HandleEvent adapts the driver to the delivery subscriber: fusion
// events are performed, everything else is ignored.
func (d *Driver) HandleEvent(ctx context.Context, ev *delivery.Event) error {
	switch ev.Type {
	case delivery.EventFusion:
		return d.Perform(ctx, ev.Fusion)
	case delivery.EventRejected:
		d.logger.Debug("result rejected upstream",
			"room", ev.Room,
			"reason", ev.Reason,
		)
		return nil
	default:
		return nil
	}
}

// complete reports outside the caller's cancellation so the gate never
// stays Busy because the actuator is shutting down.
func (d *Driver) complete(room string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.reporter.Complete(ctx, room); err != nil {
		d.logger.Error("completion report failed", "room", room, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
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
