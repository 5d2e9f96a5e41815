package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/pepperlab/emofuse/pkg/emotion"
	"github.com/pepperlab/emofuse/pkg/fusion"
)

// handleHealth reports liveness and uptime.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// handleIngest accepts a detection from a sensor client, buffers it,
// and announces it on the push channel.
func (s *Server) handleIngest(c *fiber.Ctx) error {
	var det emotion.Detection
	if err := c.BodyParser(&det); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid detection payload",
		})
	}
	if det.Timestamp.IsZero() {
		det.Timestamp = time.Now()
	}
	if err := det.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := s.store.Ingest(det); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if s.broker != nil {
		s.broker.PublishDetection(det)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"detection": det,
		"buffer":    s.store.Stats(det.Room),
	})
}

// handleStats is the polling fallback: buffer, gate, and push-channel
// state for one room.
func (s *Server) handleStats(c *fiber.Ctx) error {
	room := c.Query("room")
	if room == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "room query parameter is required",
		})
	}

	resp := fiber.Map{
		"buffer": s.store.Stats(room),
		"gate":   s.gate.Snapshot(room),
	}
	if s.broker != nil {
		resp["delivery"] = s.broker.Stats(room)
	}
	return c.JSON(resp)
}

type roomRequest struct {
	Room string `json:"room"`
}

func (s *Server) roomFrom(c *fiber.Ctx) string {
	if room := c.Query("room"); room != "" {
		return room
	}
	var req roomRequest
	if err := c.BodyParser(&req); err == nil {
		return req.Room
	}
	return ""
}

// handleFuse runs one synchronous fusion attempt for the room.
func (s *Server) handleFuse(c *fiber.Ctx) error {
	room := s.roomFrom(c)
	if room == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "room is required",
		})
	}

	res, err := s.engine.Fuse(room)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{
			"accepted": true,
			"result":   res,
		})
	case errors.Is(err, fusion.ErrRejected):
		return c.JSON(fiber.Map{
			"accepted": false,
			"reason":   "below_min_confidence",
			"result":   res,
		})
	case errors.Is(err, fusion.ErrNoData):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no fresh detections for room",
			"room":  room,
		})
	case errors.Is(err, fusion.ErrGateBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "actuator busy",
			"room":  room,
		})
	default:
		s.logger.Error("fusion failed", "room", room, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "fusion failed",
		})
	}
}

// handleClear drops the room's buffered detections and smoothing
// history.
func (s *Server) handleClear(c *fiber.Ctx) error {
	room := s.roomFrom(c)
	if room == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "room is required",
		})
	}

	s.store.Clear(room)
	s.engine.ClearHistory(room)
	return c.JSON(fiber.Map{
		"cleared": true,
		"room":    room,
	})
}

// handleGateState is polled by sensor clients before every capture
// cycle.
func (s *Server) handleGateState(c *fiber.Ctx) error {
	return c.JSON(s.gate.Snapshot(c.Params("room")))
}

type busyRequest struct {
	Emotion string `json:"emotion"`
}

// handleGateBusy lets an external coordinator mark the actuator busy.
func (s *Server) handleGateBusy(c *fiber.Ctx) error {
	room := c.Params("room")

	var req busyRequest
	c.BodyParser(&req) // optional body

	s.gate.SetBusy(room, emotion.Normalize(req.Emotion))
	return c.JSON(s.gate.Snapshot(room))
}

// handleGateComplete is called by the actuator when a gesture finishes.
func (s *Server) handleGateComplete(c *fiber.Ctx) error {
	room := c.Params("room")
	s.gate.Release(room)
	return c.JSON(s.gate.Snapshot(room))
}

// handleGateReset is the operator escape hatch for a stuck gate.
func (s *Server) handleGateReset(c *fiber.Ctx) error {
	room := c.Params("room")
	s.gate.Reset(room)
	return c.JSON(s.gate.Snapshot(room))
}

// handleFusionWS hands the upgraded connection to the broker, which
// blocks for the lifetime of the consumer.
func (s *Server) handleFusionWS(c *websocket.Conn) {
	room := c.Params("room")
	s.broker.Serve(c, room)
}
