package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	streamcounter "github.com/e7canasta/stream-counter"
	"github.com/e7canasta/stream-counter/internal/camera"
	"github.com/e7canasta/stream-counter/internal/config"
	"github.com/e7canasta/stream-counter/internal/detect"
	"github.com/e7canasta/stream-counter/internal/display"
	"github.com/e7canasta/stream-counter/internal/emitter"
	"github.com/e7canasta/stream-counter/internal/overlay"
	"github.com/e7canasta/stream-counter/internal/rgb"
)

const version = "v0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to configuration file (defaults when empty)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	logFormat := flag.String("log-format", "json", "Log format: json, text")
	list := flag.Bool("list", false, "List cameras and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("stream-counter %s\n", version)
		return 0
	}

	setupLogging(*debug, *logFormat)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("stream-counter: failed to load configuration", "config", *configPath, "error", err)
			return 1
		}
		cfg = loaded
	}

	slog.Info("stream-counter: starting",
		"version", version,
		"instance_id", cfg.InstanceID,
		"config", *configPath,
		"debug", *debug,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	devs, err := streamcounter.Enumerate(ctx, camera.Lister{})
	if err != nil {
		slog.Error("stream-counter: camera enumeration failed", "error", err)
		return 1
	}

	if *list {
		streamcounter.DescribeCameras(os.Stdout, devs, cfg.Camera.VendorID, cfg.Camera.ProductID)
		return 0
	}

	idx, ok := streamcounter.SelectCamera(devs, cfg.Camera.VendorID, cfg.Camera.ProductID)
	if !ok {
		slog.Warn("stream-counter: target camera not found, asking operator",
			"vendor_id", cfg.Camera.VendorID,
			"product_id", cfg.Camera.ProductID,
		)
		idx, ok = streamcounter.PromptCamera(os.Stdin, os.Stdout, devs)
		if !ok {
			slog.Info("stream-counter: no camera selected, exiting")
			return 0
		}
	}
	cam := devs[idx]
	slog.Info("stream-counter: camera selected",
		"name", cam.FriendlyName,
		"vendor_id", cam.VendorID,
		"product_id", cam.ProductID,
	)

	detector, aggregate := loadDetector(ctx, cfg)
	if detector != nil {
		defer detector.Close()
	}

	src := camera.NewSource(camera.SourceConfig{
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		PollTimeout: cfg.PollTimeout(),
	})
	geom, err := src.Open(ctx, cam)
	if err != nil {
		slog.Error("stream-counter: failed to open camera", "camera", cam.FriendlyName, "error", err)
		return 1
	}

	var sinks []streamcounter.CountSink
	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		mqttEmitter = emitter.NewMQTTEmitter(cfg.MQTT)
		clientID := cfg.InstanceID + "-" + uuid.New().String()[:8]
		if err := mqttEmitter.Connect(ctx, clientID); err != nil {
			slog.Warn("stream-counter: mqtt unavailable, counts will not be published", "error", err)
		}
		go mqttEmitter.Run(ctx)
		sinks = append(sinks, mqttEmitter)
	}

	orientation, _ := rgb.ParseOrientation(cfg.Display.Orientation)
	session, err := streamcounter.NewSession(streamcounter.SessionConfig{
		Camera:          cam,
		Orientation:     orientation,
		SkipInterval:    uint64(cfg.Detector.SkipInterval),
		CycleDelay:      cfg.CycleDelay(),
		DiagnosticEvery: uint64(cfg.Pipeline.DiagnosticEvery),
		StopTimeout:     cfg.ShutdownTimeout(),
		Aggregate:       aggregate,
		Overlay:         overlayOptions(cfg.Overlay),
	}, geom, src, detector, sinks...)
	if err != nil {
		slog.Error("stream-counter: failed to create session", "error", err)
		src.Close()
		return 1
	}

	if err := session.Start(ctx); err != nil {
		slog.Error("stream-counter: failed to start session", "error", err)
		src.Close()
		return 1
	}

	presenterDone := make(chan error, 1)
	if cfg.Display.Enabled {
		win := display.New(display.Config{
			Sink:      cfg.Display.Sink,
			RefreshHz: cfg.Display.RefreshHz,
			Title:     cfg.Display.Title,
		})
		go func() {
			presenterDone <- win.Run(ctx, session.Store())
		}()
	}

	select {
	case sig := <-sigChan:
		slog.Info("stream-counter: received shutdown signal", "signal", sig)
	case <-session.Done():
		slog.Info("stream-counter: capture loop finished")
	case err := <-presenterDone:
		if err != nil && !errors.Is(err, display.ErrWindowClosed) {
			slog.Error("stream-counter: display failed", "error", err)
		}
	}

	slog.Info("stream-counter: shutting down gracefully", "timeout", cfg.ShutdownTimeout())
	cancel()

	exitCode := 0
	if err := session.Stop(cfg.ShutdownTimeout()); err != nil {
		// The loop may still be inside ReadNext; leave the source to process exit.
		slog.Error("stream-counter: shutdown failed", "error", err)
		return 1
	}
	if err := session.Wait(); err != nil {
		exitCode = 1
	}
	if err := src.Close(); err != nil {
		slog.Warn("stream-counter: failed to close camera", "error", err)
	}
	if mqttEmitter != nil {
		mqttEmitter.Disconnect()
	}

	slog.Info("stream-counter: stopped", "cycles", session.Cycles(), "last_count", session.Count())
	return exitCode
}

func setupLogging(debug bool, format string) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadDetector returns a nil detector when loading fails; the session then
// runs in degraded mode.
func loadDetector(ctx context.Context, cfg *config.Config) (detect.Detector, detect.AggregateOptions) {
	aggregate := detect.AggregateOptions{
		Confidence:  float32(cfg.Detector.Confidence),
		IoU:         float32(cfg.Detector.NMSThreshold),
		TargetClass: cfg.Detector.TargetClassID,
	}

	loaded, err := detect.Load(ctx, detect.Config{
		Backend:         cfg.Detector.Backend,
		WorkerCommand:   cfg.Detector.WorkerCommand,
		ModelPaths:      cfg.Detector.ModelPaths,
		ClassNamesPaths: cfg.Detector.ClassNamesPaths,
		InputSize:       cfg.Detector.InputSize,
		Confidence:      cfg.Detector.Confidence,
		NMSThreshold:    cfg.Detector.NMSThreshold,
		TargetClass:     cfg.Detector.TargetClass,
		TargetClassID:   cfg.Detector.TargetClassID,
		CallTimeout:     cfg.CallTimeout(),
	})
	if err != nil {
		// The session warns once when it runs degraded.
		slog.Info("stream-counter: detector not loaded",
			"backend", cfg.Detector.Backend,
			"error", err,
		)
		return nil, aggregate
	}

	aggregate.TargetClass = loaded.TargetClass
	return loaded.Detector, aggregate
}

// overlayOptions keeps the text baseline at the same offset inside the panel
// as the default layout.
func overlayOptions(c config.OverlayConfig) overlay.Options {
	opts := overlay.Default()
	opts.Label = c.Label
	opts.Alpha = c.Alpha
	opts.Panel = image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
	opts.Baseline = image.Pt(c.X+10, c.Y+35)
	return opts
}
