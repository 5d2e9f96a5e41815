// Package gate implements the per-room actuator availability gate: a
// two-state machine (Available/Busy) that serializes access to the single
// physical actuator. Only the fusion/dispatch path acquires it; the
// actuator-completion callback or an operator reset releases it.
package gate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pepperlab/emofuse/pkg/emotion"
)

// State is a snapshot of one room's gate.
type State struct {
	Room        string        `json:"room"`
	Busy        bool          `json:"busy"`
	LastEmotion emotion.Label `json:"last_emotion,omitempty"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Gate tracks availability per room. Writers for the same room are
// serialized; at most one TryAcquire wins between releases.
type Gate struct {
	mu    sync.Mutex
	rooms map[string]*roomState

	// busyTimeout, when > 0, lets a stuck Busy state lapse back to
	// Available on the next read. Zero (the default) preserves the
	// operator-reset-only behavior.
	busyTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time
}

type roomState struct {
	busy        bool
	lastEmotion emotion.Label
	lastUpdated time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithBusyTimeout enables automatic recovery from a stuck Busy state.
// Zero disables it.
func WithBusyTimeout(d time.Duration) Option {
	return func(g *Gate) { g.busyTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l.With("component", "gate") }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a Gate. All rooms start Available.
func New(opts ...Option) *Gate {
	g := &Gate{
		rooms:  make(map[string]*roomState),
		logger: slog.Default().With("component", "gate"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) room(name string) *roomState {
	rs, ok := g.rooms[name]
	if !ok {
		rs = &roomState{lastUpdated: g.now()}
		g.rooms[name] = rs
	}
	return rs
}

// expireLocked applies the optional busy timeout. Caller holds g.mu.
func (g *Gate) expireLocked(room string, rs *roomState) {
	if g.busyTimeout <= 0 || !rs.busy {
		return
	}
	if g.now().Sub(rs.lastUpdated) >= g.busyTimeout {
		rs.busy = false
		rs.lastUpdated = g.now()
		g.logger.Warn("busy gate timed out, recovering to available",
			"room", room,
			"timeout", g.busyTimeout,
		)
	}
}

// Available reports whether the room's actuator is free. Repeated calls
// without writes return the same value (modulo the optional timeout).
func (g *Gate) Available(room string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs := g.room(room)
	g.expireLocked(room, rs)
	return !rs.busy
}

// TryAcquire transitions Available→Busy. Exactly one concurrent caller
// wins; the rest observe false and treat it as a skip.
func (g *Gate) TryAcquire(room string, label emotion.Label) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs := g.room(room)
	g.expireLocked(room, rs)
	if rs.busy {
		return false
	}
	rs.busy = true
	rs.lastEmotion = label
	rs.lastUpdated = g.now()
	g.logger.Info("actuator busy", "room", room, "emotion", label)
	return true
}

// Release transitions Busy→Available. Called by the actuator-completion
// callback. Releasing an already-available gate is a no-op.
func (g *Gate) Release(room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs := g.room(room)
	if !rs.busy {
		return
	}
	rs.busy = false
	rs.lastUpdated = g.now()
	g.logger.Info("actuator available", "room", room)
}

// Reset forces the room back to Available regardless of state. This is
// the operator recovery path for a stuck gate.
func (g *Gate) Reset(room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs := g.room(room)
	wasBusy := rs.busy
	rs.busy = false
	rs.lastUpdated = g.now()
	if wasBusy {
		g.logger.Warn("gate forcibly reset to available", "room", room)
	}
}

// SetBusy marks the room Busy from an explicit external signal (the
// actuator itself reporting that it started executing).
func (g *Gate) SetBusy(room string, label emotion.Label) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs := g.room(room)
	rs.busy = true
	rs.lastEmotion = label
	rs.lastUpdated = g.now()
	g.logger.Info("actuator busy (external signal)", "room", room, "emotion", label)
}

// Snapshot returns the room's current state.
func (g *Gate) Snapshot(room string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	rs := g.room(room)
	g.expireLocked(room, rs)
	return State{
		Room:        room,
		Busy:        rs.busy,
		LastEmotion: rs.lastEmotion,
		LastUpdated: rs.lastUpdated,
	}
}
