// Package buffer provides the per-room temporal store of recent emotion
// detections. Entries are bounded by count and by age; expiry is computed
// lazily at read time, so no background sweeper is needed.
package buffer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pepperlab/emofuse/pkg/emotion"
)

// Defaults for buffer sizing and freshness.
const (
	DefaultMaxPerModality = 10
	DefaultMaxAge         = 10 * time.Second
)

// Stats summarizes a room's buffer state. Cheap to compute; polling
// consumers use it to avoid wasted fusion attempts.
type Stats struct {
	Room        string `json:"room"`
	FaceCount   int    `json:"face_count"`
	SpeechCount int    `json:"speech_count"`
	HasBoth     bool   `json:"has_both"`

	// Ages of the freshest non-expired detection per modality,
	// in milliseconds. Negative when the modality is absent.
	FaceAgeMs   int64 `json:"face_age_ms"`
	SpeechAgeMs int64 `json:"speech_age_ms"`
}

// Store is the room-keyed detection store. The in-memory implementation
// below is the default; the interface allows substituting a distributed
// store without changing component contracts.
type Store interface {
	Ingest(det emotion.Detection) error
	Latest(room string, mod emotion.Modality) (emotion.Detection, bool)
	Stats(room string) Stats
	Clear(room string)
}

// Memory is the in-process Store. All state for a room is accessed under
// a single lock; operations on different rooms do not contend beyond the
// map access itself.
type Memory struct {
	mu     sync.RWMutex
	rooms  map[string]*roomBuffer
	max    int
	maxAge time.Duration
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

type roomBuffer struct {
	mu     sync.Mutex
	face   []emotion.Detection
	speech []emotion.Detection
}

// Option configures a Memory store.
type Option func(*Memory)

// WithCapacity sets the per-modality entry cap.
func WithCapacity(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.max = n
		}
	}
}

// WithMaxAge sets the freshness horizon for reads.
func WithMaxAge(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) { m.logger = l.With("component", "buffer") }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an in-memory store with the given options.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		rooms:  make(map[string]*roomBuffer),
		max:    DefaultMaxPerModality,
		maxAge: DefaultMaxAge,
		logger: slog.Default().With("component", "buffer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) room(name string) *roomBuffer {
	m.mu.RLock()
	rb, ok := m.rooms[name]
	m.mu.RUnlock()
	if ok {
		return rb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rb, ok = m.rooms[name]; ok {
		return rb
	}
	rb = &roomBuffer{}
	m.rooms[name] = rb
	return rb
}

// Ingest appends a detection to its room and modality, evicting the
// oldest entry beyond capacity. The detection must validate.
func (m *Memory) Ingest(det emotion.Detection) error {
	if err := det.Validate(); err != nil {
		return err
	}
	if det.Timestamp.IsZero() {
		det.Timestamp = m.now()
	}

	rb := m.room(det.Room)
	rb.mu.Lock()
	defer rb.mu.Unlock()

	seq := rb.seq(det.Modality)
	*seq = append(*seq, det)
	if len(*seq) > m.max {
		*seq = (*seq)[len(*seq)-m.max:]
	}

	m.logger.Debug("detection buffered",
		"room", det.Room,
		"modality", det.Modality,
		"label", det.Label,
		"confidence", det.Confidence,
	)
	return nil
}

func (rb *roomBuffer) seq(mod emotion.Modality) *[]emotion.Detection {
	if mod == emotion.Face {
		return &rb.face
	}
	return &rb.speech
}

// Latest returns the most recent non-expired detection for the modality.
func (m *Memory) Latest(room string, mod emotion.Modality) (emotion.Detection, bool) {
	m.mu.RLock()
	rb, ok := m.rooms[room]
	m.mu.RUnlock()
	if !ok {
		return emotion.Detection{}, false
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	seq := *rb.seq(mod)
	cutoff := m.now().Add(-m.maxAge)
	for i := len(seq) - 1; i >= 0; i-- {
		if seq[i].Timestamp.After(cutoff) {
			return seq[i], true
		}
	}
	return emotion.Detection{}, false
}

// Stats returns counts and freshness for a room without mutating it.
func (m *Memory) Stats(room string) Stats {
	st := Stats{Room: room, FaceAgeMs: -1, SpeechAgeMs: -1}

	now := m.now()
	if face, ok := m.Latest(room, emotion.Face); ok {
		st.FaceAgeMs = now.Sub(face.Timestamp).Milliseconds()
	}
	if speech, ok := m.Latest(room, emotion.Speech); ok {
		st.SpeechAgeMs = now.Sub(speech.Timestamp).Milliseconds()
	}
	st.HasBoth = st.FaceAgeMs >= 0 && st.SpeechAgeMs >= 0

	m.mu.RLock()
	rb, ok := m.rooms[room]
	m.mu.RUnlock()
	if ok {
		rb.mu.Lock()
		st.FaceCount = len(rb.face)
		st.SpeechCount = len(rb.speech)
		rb.mu.Unlock()
	}
	return st
}

// Clear removes all entries for a room.
func (m *Memory) Clear(room string) {
	m.mu.Lock()
	delete(m.rooms, room)
	m.mu.Unlock()
	m.logger.Debug("buffer cleared", "room", room)
}

// Verify Memory implements Store at compile time.
var _ Store = (*Memory)(nil)
