// sensor runs the capture schedulers for one room: a face scheduler
// voting over frame windows and a speech scheduler doing adaptive
// voice-activity bursts. In demo mode both run against synthetic
// sources and mock classifiers, so the whole pipeline can be exercised
// without cameras, microphones, or model servers.
package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pepperlab/emofuse/internal/config"
	"github.com/pepperlab/emofuse/internal/log"
	"github.com/pepperlab/emofuse/pkg/capture"
	"github.com/pepperlab/emofuse/pkg/classify"
)

func main() {
	serverURL := flag.String("server", config.ServerURL(), "fusiond base URL")
	room := flag.String("room", config.Room(), "room identifier")
	faceURL := flag.String("face-classifier", config.FaceClassifierURL(), "face classifier base URL")
	speechURL := flag.String("speech-classifier", config.AudioClassifierURL(), "speech classifier base URL")
	logLevel := flag.String("log-level", config.String("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	demo := flag.Bool("demo", config.Bool("DEMO_MODE", false), "use mock classifiers instead of live model servers")
	noFace := flag.Bool("no-face", false, "disable the face scheduler")
	noSpeech := flag.Bool("no-speech", false, "disable the speech scheduler")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()

	svc := capture.NewHTTPService(*serverURL)

	var faceCls, speechCls classify.Classifier
	if *demo {
		logger.Info("demo mode: mock classifiers")
		faceCls = classify.NewMock("happy", 0.8)
		speechCls = classify.NewMock("hap", 0.7)
	} else {
		faceCls = classify.NewClient(
			classify.WithBaseURL(*faceURL),
			classify.WithContentType("image/jpeg"),
			classify.WithLogger(logger),
		)
		speechCls = classify.NewClient(
			classify.WithBaseURL(*speechURL),
			classify.WithContentType("audio/pcm"),
			classify.WithLogger(logger),
		)
	}
	defer faceCls.Close()
	defer speechCls.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	if !*noFace {
		faceCfg := capture.DefaultFaceConfig()
		faceCfg.Logger = logger
		sched := capture.NewFaceScheduler(svc, &capture.MockFrameSource{}, faceCls, *room, faceCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	if !*noSpeech {
		speechCfg := capture.DefaultSpeechConfig()
		speechCfg.Logger = logger
		source := &capture.MockAudioSource{Frequency: 220, Amplitude: 0.3}
		sched := capture.NewSpeechScheduler(svc, source, speechCls, *room, speechCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	logger.Info("sensor running", "room", *room, "server", *serverURL, "demo", *demo)
	wg.Wait()
}
