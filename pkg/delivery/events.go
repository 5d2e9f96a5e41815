// Package delivery pushes fusion pipeline events to websocket
// consumers, room by room. Each room gets its own broadcast hub;
// consumers that cannot keep up are dropped rather than allowed to
// stall the pipeline. A polling fallback lives on the HTTP side; this
// package owns only the push channel and the consumer-side subscriber.
package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pepperlab/emofuse/pkg/emotion"
	"github.com/pepperlab/emofuse/pkg/fusion"
)

// EventType tags every frame on the push channel.
type EventType string

const (
	// EventConnected is sent once, right after a client connects.
	EventConnected EventType = "connected"
	// EventDetection announces a single-modality detection ingest.
	EventDetection EventType = "detection"
	// EventFusion announces an accepted fused result.
	EventFusion EventType = "fusion"
	// EventRejected announces a result that fell under the confidence
	// floor and was not dispatched.
	EventRejected EventType = "rejected"
	// EventHeartbeat is the periodic application-level keep-alive.
	EventHeartbeat EventType = "heartbeat"
	// EventPong answers a client ping.
	EventPong EventType = "pong"
	// EventStats answers a client get_stats request.
	EventStats EventType = "stats"
)

// Event is the wire frame for the push channel. Exactly one payload
// field is set, selected by Type.
type Event struct {
	Type      EventType `json:"type"`
	Room      string    `json:"room,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// HeartbeatSeconds is set on connected events so clients know the
	// cadence to expect.
	HeartbeatSeconds float64 `json:"heartbeat_interval,omitempty"`

	// Modality and Detection are set on detection events.
	Modality  emotion.Modality   `json:"modality,omitempty"`
	Detection *emotion.Detection `json:"data,omitempty"`

	// Fusion is set on fusion and rejected events.
	Fusion *fusion.Result `json:"fusion,omitempty"`
	// Reason is set on rejected events.
	Reason string `json:"reason,omitempty"`

	// Stats is set on stats events.
	Stats *RoomStats `json:"stats,omitempty"`
}

// Validate checks that the event's payload matches its type. The
// switch is exhaustive over EventType; an unlisted type is an error.
func (e *Event) Validate() error {
	switch e.Type {
	case EventConnected, EventHeartbeat, EventPong:
		return nil
	case EventDetection:
		if e.Detection == nil {
			return fmt.Errorf("delivery: detection event without payload")
		}
		return nil
	case EventFusion:
		if e.Fusion == nil {
			return fmt.Errorf("delivery: fusion event without payload")
		}
		return nil
	case EventRejected:
		if e.Fusion == nil {
			return fmt.Errorf("delivery: rejected event without payload")
		}
		return nil
	case EventStats:
		if e.Stats == nil {
			return fmt.Errorf("delivery: stats event without payload")
		}
		return nil
	default:
		return fmt.Errorf("delivery: unknown event type %q", e.Type)
	}
}

// Encode marshals the event for the wire.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses and validates a wire frame.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("delivery: decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func connectedEvent(room string, heartbeat time.Duration) *Event {
	return &Event{
		Type:             EventConnected,
		Room:             room,
		Timestamp:        time.Now(),
		HeartbeatSeconds: heartbeat.Seconds(),
	}
}

// DetectionEvent wraps an ingested detection.
func DetectionEvent(det emotion.Detection) *Event {
	return &Event{
		Type:      EventDetection,
		Room:      det.Room,
		Timestamp: time.Now(),
		Modality:  det.Modality,
		Detection: &det,
	}
}

// FusionEvent wraps an accepted fused result.
func FusionEvent(res *fusion.Result) *Event {
	return &Event{
		Type:      EventFusion,
		Room:      res.Room,
		Timestamp: time.Now(),
		Fusion:    res,
	}
}

// RejectedEvent wraps a below-floor result and the rejection reason.
func RejectedEvent(res *fusion.Result, reason string) *Event {
	return &Event{
		Type:      EventRejected,
		Room:      res.Room,
		Timestamp: time.Now(),
		Fusion:    res,
		Reason:    reason,
	}
}

func heartbeatEvent(room string) *Event {
	return &Event{Type: EventHeartbeat, Room: room, Timestamp: time.Now()}
}

func pongEvent() *Event {
	return &Event{Type: EventPong, Timestamp: time.Now()}
}

// ClientMessage is what consumers may send upstream.
type ClientMessage struct {
	Type string `json:"type"`
}

// Client message types.
const (
	MsgPing     = "ping"
	MsgGetStats = "get_stats"
)

// RoomStats is the per-room connection counters exposed through stats
// events and the HTTP surface.
type RoomStats struct {
	Room         string `json:"room"`
	Active       int    `json:"active_connections"`
	Connects     int    `json:"connects"`
	Disconnects  int    `json:"disconnects"`
	Errors       int    `json:"errors"`
	MessagesSent int    `json:"messages_sent"`
}
