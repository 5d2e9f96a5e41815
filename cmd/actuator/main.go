// actuator subscribes to a room's fusion push channel and drives the
// robot proxy: each accepted result plays its mapped gesture script,
// then reports completion so the room's availability gate reopens.
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/pepperlab/emofuse/internal/config"
	"github.com/pepperlab/emofuse/internal/log"
	"github.com/pepperlab/emofuse/pkg/actuator"
	"github.com/pepperlab/emofuse/pkg/delivery"
)

func main() {
	serverURL := flag.String("server", config.ServerURL(), "fusiond base URL")
	room := flag.String("room", config.Room(), "room identifier")
	robotURL := flag.String("robot", config.RobotURL(), "robot proxy base URL")
	logLevel := flag.String("log-level", config.String("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	demo := flag.Bool("demo", config.Bool("DEMO_MODE", false), "log gestures instead of driving a robot")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()

	var robot actuator.Robot
	if *demo {
		logger.Info("demo mode: gestures are logged, not played")
		robot = &actuator.MockRobot{}
	} else {
		robot = actuator.NewHTTPRobot(*robotURL)
	}

	driver := actuator.NewDriver(robot,
		actuator.NewHTTPReporter(*serverURL),
		actuator.WithDriverLogger(logger),
	)

	sub := delivery.NewSubscriber(*serverURL, *room, driver.HandleEvent,
		delivery.WithSubscriberLogger(logger),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("actuator running", "room", *room, "server", *serverURL)
	if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("subscriber stopped", "error", err)
	}
}
