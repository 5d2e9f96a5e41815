// Package actuator turns accepted fusion results into robot gestures.
// A Driver consumes fusion events, plays the gesture script mapped to
// the fused emotion, and reports completion back to the server so the
// room's availability gate reopens.
package actuator

import (
	"context"
	"time"

	"github.com/pepperlab/emofuse/pkg/emotion"
)

// Gesture names one robot animation script and how long it takes to
// play out. Completion is reported once the duration has elapsed; the
// robot proxy itself does not ack script completion.
type Gesture struct {
	Script   string
	Duration time.Duration
}

// defaultGestures maps every canonical label onto the robot's
// animation repertoire.
var defaultGestures = map[emotion.Label]Gesture{
	emotion.Happy:    {Script: "joy", Duration: 2500 * time.Millisecond},
	emotion.Sad:      {Script: "calm", Duration: 2500 * time.Millisecond},
	emotion.Angry:    {Script: "frustration", Duration: 2 * time.Second},
	emotion.Surprise: {Script: "satisfaction", Duration: 2 * time.Second},
	emotion.Fear:     {Script: "anxiety", Duration: 2 * time.Second},
	emotion.Disgust:  {Script: "confusion", Duration: 2 * time.Second},
	emotion.Neutral:  {Script: "serenity", Duration: 2 * time.Second},
}

// Gestures returns a copy of the default emotion-to-gesture table.
func Gestures() map[emotion.Label]Gesture {
	out := make(map[emotion.Label]Gesture, len(defaultGestures))
	for k, v := range defaultGestures {
		out[k] = v
	}
	return out
}

// Robot plays gesture scripts. Implementations: HTTPRobot for the real
// proxy, Mock for tests and demo mode.
type Robot interface {
	// Play starts the named script for a room. It returns once the
	// robot accepted the script, not when the animation finishes.
	Play(ctx context.Context, script, room string) error
}

// Reporter closes the loop with the server once a gesture finishes or
// fails.
type Reporter interface {
	// Complete reopens the room's gate.
	Complete(ctx context.Context, room string) error
}
