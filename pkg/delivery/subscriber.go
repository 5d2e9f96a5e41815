package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pepperlab/emofuse/pkg/capture"
)

// Handler consumes decoded push events. Returning an error logs the
// event and moves on; it does not tear down the connection.
type Handler func(ctx context.Context, ev *Event) error

// Subscriber is the consumer side of the push channel. It dials the
// server, decodes events, and hands them to a Handler, reconnecting
// with exponential backoff when the connection drops.
type Subscriber struct {
	baseURL string
	room    string
	handler Handler
	logger  *slog.Logger
	backoff *capture.Backoff

	pingInterval time.Duration
	dialTimeout  time.Duration
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(l *slog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = l }
}

// WithPingInterval overrides the client-side application ping cadence.
func WithPingInterval(d time.Duration) SubscriberOption {
	return func(s *Subscriber) { s.pingInterval = d }
}

// NewSubscriber creates a subscriber for one room. baseURL is the
// server's HTTP base (http://host:port); the ws scheme is derived.
func NewSubscriber(baseURL, room string, handler Handler, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		baseURL:      baseURL,
		room:         room,
		handler:      handler,
		logger:       slog.Default(),
		backoff:      capture.DefaultBackoff(),
		pingInterval: 25 * time.Second,
		dialTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "delivery.subscriber", "room", room)
	return s
}

// wsURL derives ws://.../ws/fusion/:room from the HTTP base URL.
func (s *Subscriber) wsURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("delivery: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("delivery: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/fusion/" + s.room
	return u.String(), nil
}

// Run connects and consumes events until the context is cancelled.
// Connection failures and drops retry under exponential backoff; a
// session that delivers at least one event resets the backoff.
func (s *Subscriber) Run(ctx context.Context) error {
	target, err := s.wsURL()
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.session(ctx, target); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := s.backoff.Next()
			s.logger.Warn("connection lost, reconnecting",
				"error", err,
				"retry_in", delay,
			)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// session runs one connection lifetime: dial, read loop, client pings.
func (s *Subscriber) session(ctx context.Context, target string) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.dialTimeout}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()
	s.logger.Info("connected")

	// Close the connection when the context ends so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go s.pingLoop(ctx, conn, done)

	delivered := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if delivered {
				s.backoff.Reset()
			}
			return err
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			s.logger.Warn("dropping undecodable event", "error", err)
			continue
		}
		delivered = true
		s.backoff.Reset()

		switch ev.Type {
		case EventHeartbeat, EventPong, EventConnected:
			s.logger.Debug("control event", "type", ev.Type)
			continue
		}

		if s.handler == nil {
			continue
		}
		if err := s.handler(ctx, ev); err != nil {
			s.logger.Error("handler failed",
				"type", ev.Type,
				"error", err,
			)
		}
	}
}

// pingLoop sends application-level pings so intermediate proxies keep
// the connection open.
func (s *Subscriber) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ClientMessage{Type: MsgPing}); err != nil {
				return
			}
		}
	}
}
