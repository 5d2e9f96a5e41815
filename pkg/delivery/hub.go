package delivery

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/pepperlab/emofuse/pkg/emotion"
	"github.com/pepperlab/emofuse/pkg/fusion"
	"github.com/pepperlab/emofuse/pkg/gate"
)

const (
	// writeWait caps a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long a silent connection stays alive.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Consumers only send small
	// control messages.
	maxMessageSize = 4 * 1024

	// DefaultHeartbeat is the application-level heartbeat cadence.
	DefaultHeartbeat = 30 * time.Second

	// sendBuffer is the per-client outbound queue. A full queue marks
	// the client as too slow and it is dropped.
	sendBuffer = 64
)

// Broker fans pipeline events out to websocket consumers, one hub per
// room. It implements fusion.Publisher so the engine can push results
// straight to it.
type Broker struct {
	gate      *gate.Gate
	heartbeat time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	hubs map[string]*roomHub
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithHeartbeat overrides the heartbeat cadence.
func WithHeartbeat(d time.Duration) BrokerOption {
	return func(b *Broker) { b.heartbeat = d }
}

// WithBrokerLogger sets the logger.
func WithBrokerLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates a broker. The gate may be nil; when set, every new
// consumer connection resets its room's gate so sensing resumes even
// after an actuator crashed mid-gesture.
func NewBroker(g *gate.Gate, opts ...BrokerOption) *Broker {
	b := &Broker{
		gate:      g,
		heartbeat: DefaultHeartbeat,
		hubs:      make(map[string]*roomHub),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "delivery")
	return b
}

// PublishFusion broadcasts an accepted result to the room's consumers.
func (b *Broker) PublishFusion(res *fusion.Result) {
	b.publish(res.Room, FusionEvent(res))
}

// PublishRejected broadcasts a below-floor result.
func (b *Broker) PublishRejected(res *fusion.Result, reason string) {
	b.publish(res.Room, RejectedEvent(res, reason))
}

// PublishDetection broadcasts a single-modality detection.
func (b *Broker) PublishDetection(det emotion.Detection) {
	b.publish(det.Room, DetectionEvent(det))
}

// Verify the broker satisfies the engine's publisher contract.
var _ fusion.Publisher = (*Broker)(nil)

func (b *Broker) publish(room string, ev *Event) {
	b.mu.Lock()
	h, ok := b.hubs[room]
	b.mu.Unlock()
	if !ok {
		// No consumers; the polling fallback still sees the result.
		return
	}

	data, err := ev.Encode()
	if err != nil {
		b.logger.Error("encode event failed", "type", ev.Type, "error", err)
		return
	}
	h.broadcast(data)
}

// Serve handles one consumer connection until it closes. It is meant
// to be the body of a gofiber websocket handler, so it blocks.
func (b *Broker) Serve(conn *websocket.Conn, room string) {
	h := b.hub(room)

	// A consumer coming online means an actuator is ready; clear any
	// stale Busy state so sensing can resume.
	if b.gate != nil {
		b.gate.Reset(room)
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.register <- c

	if data, err := connectedEvent(room, b.heartbeat).Encode(); err == nil {
		c.send <- data
	}

	go c.writePump()
	c.readPump()
}

// Stats reports the room's connection counters.
func (b *Broker) Stats(room string) RoomStats {
	b.mu.Lock()
	h, ok := b.hubs[room]
	b.mu.Unlock()
	if !ok {
		return RoomStats{Room: room}
	}
	return h.stats()
}

// ClientCount returns how many consumers are attached to a room.
func (b *Broker) ClientCount(room string) int {
	return b.Stats(room).Active
}

func (b *Broker) hub(room string) *roomHub {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hubs[room]
	if !ok {
		h = newRoomHub(room, b.heartbeat, b.logger)
		b.hubs[room] = h
		go h.run()
	}
	return h
}

// roomHub is the channel-based fan-out loop for one room. Register,
// unregister, and broadcast all serialize through run().
type roomHub struct {
	room       string
	clients    map[*client]bool
	bcast      chan []byte
	register   chan *client
	unregister chan *client
	heartbeat  time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	counters RoomStats
}

func newRoomHub(room string, heartbeat time.Duration, logger *slog.Logger) *roomHub {
	return &roomHub{
		room:       room,
		clients:    make(map[*client]bool),
		bcast:      make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		heartbeat:  heartbeat,
		logger:     logger.With("room", room),
		counters:   RoomStats{Room: room},
	}
}

func (h *roomHub) run() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.count(func(s *RoomStats) {
				s.Active = len(h.clients)
				s.Connects++
			})
			h.logger.Info("consumer connected", "total", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.count(func(s *RoomStats) {
				s.Active = len(h.clients)
				s.Disconnects++
			})
			h.logger.Info("consumer disconnected", "remaining", len(h.clients))

		case data := <-h.bcast:
			sent := 0
			for c := range h.clients {
				select {
				case c.send <- data:
					sent++
				default:
					// Queue full: the consumer is too slow to keep.
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropped slow consumer")
				}
			}
			h.count(func(s *RoomStats) {
				s.Active = len(h.clients)
				s.MessagesSent += sent
			})

		case <-ticker.C:
			if len(h.clients) == 0 {
				continue
			}
			if data, err := heartbeatEvent(h.room).Encode(); err == nil {
				for c := range h.clients {
					select {
					case c.send <- data:
					default:
					}
				}
			}
		}
	}
}

func (h *roomHub) broadcast(data []byte) {
	select {
	case h.bcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping event")
		h.count(func(s *RoomStats) { s.Errors++ })
	}
}

func (h *roomHub) count(fn func(*RoomStats)) {
	h.mu.Lock()
	fn(&h.counters)
	h.mu.Unlock()
}

func (h *roomHub) stats() RoomStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counters
}

// client is one websocket consumer. All writes go through writePump so
// the connection is only ever written from one goroutine.
type client struct {
	hub  *roomHub
	conn *websocket.Conn
	send chan []byte
}

// readPump consumes control messages (ping, get_stats) and detects
// disconnection. It blocks until the connection dies.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Warn("ignoring malformed client message")
			continue
		}

		switch msg.Type {
		case MsgPing:
			c.reply(pongEvent())
		case MsgGetStats:
			s := c.hub.stats()
			c.reply(&Event{
				Type:      EventStats,
				Room:      c.hub.room,
				Timestamp: time.Now(),
				Stats:     &s,
			})
		}
	}
}

// reply queues an event for this client only.
func (c *client) reply(ev *Event) {
	data, err := ev.Encode()
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
