// Package server wires the fusion pipeline behind a fiber HTTP and
// websocket surface: detection ingest for sensor clients, on-demand and
// polled fusion for consumers, gate control for actuators, and the
// push channel.
package server

import (
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/pepperlab/emofuse/pkg/buffer"
	"github.com/pepperlab/emofuse/pkg/delivery"
	"github.com/pepperlab/emofuse/pkg/fusion"
	"github.com/pepperlab/emofuse/pkg/gate"
)

// Server is the fusiond HTTP and websocket front end.
type Server struct {
	app    *fiber.App
	store  buffer.Store
	gate   *gate.Gate
	engine *fusion.Engine
	broker *delivery.Broker
	logger *slog.Logger

	started time.Time
}

// New assembles the server around an already-wired pipeline.
func New(store buffer.Store, g *gate.Gate, engine *fusion.Engine, broker *delivery.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   store,
		gate:    g,
		engine:  engine,
		broker:  broker,
		logger:  logger.With("component", "server"),
		started: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "emofuse",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Post("/detections", s.handleIngest)

	fus := api.Group("/fusion")
	fus.Get("/stats", s.handleStats)
	fus.Post("/fuse", s.handleFuse)
	fus.Post("/clear", s.handleClear)

	gt := api.Group("/gate")
	gt.Get("/:room", s.handleGateState)
	gt.Post("/:room/busy", s.handleGateBusy)
	gt.Post("/:room/complete", s.handleGateComplete)
	gt.Post("/:room/reset", s.handleGateReset)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/fusion/:room", websocket.New(s.handleFusionWS))

	s.app = app
	return s
}

// App exposes the fiber app for testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on the given address until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener. Used by tests that need a real
// port for websocket dials.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")
	return s.app.Shutdown()
}
