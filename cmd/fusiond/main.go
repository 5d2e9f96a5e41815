// fusiond is the emotion fusion server: it buffers detections from
// sensor clients, runs the weighted fusion vote, coordinates the
// actuator availability gate, and pushes results to consumers over
// websocket.
package main

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pepperlab/emofuse/internal/config"
	"github.com/pepperlab/emofuse/internal/log"
	"github.com/pepperlab/emofuse/pkg/buffer"
	"github.com/pepperlab/emofuse/pkg/delivery"
	"github.com/pepperlab/emofuse/pkg/fusion"
	"github.com/pepperlab/emofuse/pkg/gate"
	"github.com/pepperlab/emofuse/pkg/server"
)

func main() {
	port := flag.String("port", config.ServerPort(), "listen port")
	logLevel := flag.String("log-level", config.String("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	cadenceRooms := flag.String("cadence-rooms", config.String("CADENCE_ROOMS", ""), "comma-separated rooms to fuse on a ticker")
	cadence := flag.Duration("cadence", config.Duration("CADENCE_INTERVAL", time.Second), "fusion cadence interval")
	minConfidence := flag.Float64("min-confidence", config.Float("MIN_CONFIDENCE", 0.30), "minimum accepted fusion confidence")
	busyTimeout := flag.Duration("busy-timeout", config.Duration("GATE_BUSY_TIMEOUT", 0), "auto-release a Busy gate after this long (0 = never)")
	smoothing := flag.Bool("smoothing", config.Bool("SMOOTHING", false), "enable temporal smoothing")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()

	store := buffer.NewMemory(buffer.WithLogger(logger))

	var gateOpts []gate.Option
	gateOpts = append(gateOpts, gate.WithLogger(logger))
	if *busyTimeout > 0 {
		gateOpts = append(gateOpts, gate.WithBusyTimeout(*busyTimeout))
	}
	g := gate.New(gateOpts...)

	broker := delivery.NewBroker(g, delivery.WithBrokerLogger(logger))

	fusionOpts := []fusion.Option{
		fusion.WithMinConfidence(*minConfidence),
		fusion.WithLogger(logger),
	}
	if *smoothing {
		fusionOpts = append(fusionOpts, fusion.WithSmoothing(fusion.DefaultSmoothingConfig()))
	}
	engine := fusion.New(store, g, broker, fusionOpts...)

	srv := server.New(store, g, engine, broker, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, room := range strings.Split(*cadenceRooms, ",") {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		go engine.RunCadence(ctx, room, *cadence)
		logger.Info("fusion cadence running", "room", room, "interval", *cadence)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(":" + *port)
	}()

	select {
	case <-ctx.Done():
		if err := srv.Shutdown(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}
}
