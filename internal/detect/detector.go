// Package detect runs object detection on display frames and reduces the
// results to a single count of one target class.
//
// Detection is pluggable. The Detector interface is implemented by a
// subprocess worker speaking length-prefixed msgpack over stdio, and by an
// in-process OpenCV DNN backend when built with the gocv tag. Either way the
// caller sees boxes in output-frame pixel coordinates.
//
// Errors are split by when they happen:
//   - ErrModelUnavailable: the model or class names could not be found
//   - ErrLoad: artifacts exist but the backend failed to start
//   - ErrInference: a single Detect call failed; the detector stays usable
package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"
)

var (
	// ErrModelUnavailable means detection runs in degraded mode (count 0).
	ErrModelUnavailable = errors.New("detect: model unavailable")
	// ErrLoad means the backend could not be started with the resolved artifacts.
	ErrLoad = errors.New("detect: load failed")
	// ErrInference is a per-call failure.
	ErrInference = errors.New("detect: inference failed")
)

// Detection is one box in output-frame pixel coordinates.
type Detection struct {
	ClassID    int
	Confidence float32
	Box        image.Rectangle
}

// Detector runs inference on a single frame.
type Detector interface {
	// Detect returns all detections above the backend's own floor. Boxes are
	// scaled back to img.Bounds(). Errors wrap ErrInference.
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	// Close releases the backend. Safe to call more than once.
	Close() error
}

// Backend names accepted in Config.Backend.
const (
	BackendWorker = "worker"
	BackendGoCV   = "gocv"
	BackendNone   = "none"
)

// Config selects and parameterizes a detector backend.
type Config struct {
	Backend         string
	WorkerCommand   string
	ModelPaths      []string
	ClassNamesPaths []string
	InputSize       int
	Confidence      float64
	NMSThreshold    float64
	TargetClass     string
	TargetClassID   int
	CallTimeout     time.Duration
}

// Loaded is the result of a successful Load.
type Loaded struct {
	Detector    Detector
	Artifacts   Artifacts
	TargetClass int
}

// Load resolves model artifacts and starts the configured backend.
//
// A returned error wrapping ErrModelUnavailable or ErrLoad is not fatal for
// the pipeline: callers continue without a detector and report count 0.
func Load(ctx context.Context, cfg Config) (*Loaded, error) {
	if cfg.Backend == BackendNone {
		return nil, fmt.Errorf("%w: backend disabled", ErrModelUnavailable)
	}
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("%w: input size must be positive, got %d", ErrLoad, cfg.InputSize)
	}

	artifacts, err := ResolveArtifacts(cfg.ModelPaths, cfg.ClassNamesPaths)
	if err != nil {
		return nil, err
	}

	target := TargetClassID(artifacts.ClassNames, cfg.TargetClass, cfg.TargetClassID)

	var d Detector
	switch cfg.Backend {
	case BackendWorker, "":
		d, err = StartWorker(ctx, WorkerConfig{
			Command:     cfg.WorkerCommand,
			ModelPath:   artifacts.ModelPath,
			InputSize:   cfg.InputSize,
			Confidence:  cfg.Confidence,
			CallTimeout: cfg.CallTimeout,
		})
	case BackendGoCV:
		d, err = newGoCVDetector(artifacts.ModelPath, cfg.InputSize, float32(cfg.Confidence))
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrLoad, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s backend: %v", ErrLoad, cfg.Backend, err)
	}

	slog.Info("stream-counter: detector loaded",
		"backend", cfg.Backend,
		"model", artifacts.ModelPath,
		"class_names", artifacts.ClassNamesPath,
		"classes", len(artifacts.ClassNames),
		"target_class", target,
		"input_size", cfg.InputSize,
	)

	return &Loaded{Detector: d, Artifacts: artifacts, TargetClass: target}, nil
}
