package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/stream-counter/internal/rgb"
)

var (
	instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)
	hexIDPattern      = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "stream-counter"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateDisplay(&cfg.Display); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	if err := validatePipeline(&cfg.Pipeline); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := validateDetector(&cfg.Detector); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := validateOverlay(&cfg.Overlay); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}

	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = fmt.Sprintf("stream-counter/%s/count", cfg.InstanceID)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.VendorID == "" {
		c.VendorID = "32E6"
	}
	if c.ProductID == "" {
		c.ProductID = "9221"
	}
	if !hexIDPattern.MatchString(c.VendorID) {
		return fmt.Errorf("vendor_id %q must be exactly 4 hex digits", c.VendorID)
	}
	if !hexIDPattern.MatchString(c.ProductID) {
		return fmt.Errorf("product_id %q must be exactly 4 hex digits", c.ProductID)
	}
	c.VendorID = strings.ToUpper(c.VendorID)
	c.ProductID = strings.ToUpper(c.ProductID)

	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("width/height must not be negative")
	}
	if (c.Width == 0) != (c.Height == 0) {
		return fmt.Errorf("width and height must be set together")
	}
	if c.PollTimeoutMS <= 0 {
		c.PollTimeoutMS = 500
	}
	return nil
}

func validateDisplay(d *DisplayConfig) error {
	if d.Sink == "" {
		d.Sink = "autovideosink"
	}
	if _, ok := rgb.ParseOrientation(d.Orientation); !ok {
		return fmt.Errorf("orientation %q must be top-down or bottom-up", d.Orientation)
	}
	if d.Orientation == "" {
		d.Orientation = rgb.TopDown.String()
	}
	if d.RefreshHz <= 0 {
		d.RefreshHz = 30
	}
	if d.RefreshHz > 120 {
		return fmt.Errorf("refresh_hz must be <= 120, got %d", d.RefreshHz)
	}
	if d.Title == "" {
		d.Title = "People Counter"
	}
	return nil
}

func validatePipeline(p *PipelineConfig) error {
	if p.CycleDelayMS < 0 {
		return fmt.Errorf("cycle_delay_ms must not be negative")
	}
	if p.CycleDelayMS == 0 {
		p.CycleDelayMS = 33
	}
	if p.DiagnosticEvery <= 0 {
		p.DiagnosticEvery = 30
	}
	if p.ShutdownTimeoutS <= 0 {
		p.ShutdownTimeoutS = 3
	}
	return nil
}

func validateDetector(d *DetectorConfig) error {
	switch d.Backend {
	case "":
		d.Backend = "worker"
	case "worker", "gocv", "none":
	default:
		return fmt.Errorf("backend %q must be worker, gocv or none", d.Backend)
	}

	if d.WorkerCommand == "" {
		d.WorkerCommand = "models/run_worker.sh"
	}
	if len(d.ModelPaths) == 0 {
		d.ModelPaths = []string{
			"AIStuff/yolov8n.onnx",
			"../AIStuff/yolov8n.onnx",
			"../../AIStuff/yolov8n.onnx",
		}
	}
	if len(d.ClassNamesPaths) == 0 {
		d.ClassNamesPaths = []string{
			"AIStuff/coco.names",
			"../AIStuff/coco.names",
			"../../AIStuff/coco.names",
		}
	}
	if len(d.ModelPaths) != len(d.ClassNamesPaths) {
		return fmt.Errorf("model_paths (%d) and class_names_paths (%d) must be parallel lists",
			len(d.ModelPaths), len(d.ClassNamesPaths))
	}

	if d.InputSize == 0 {
		d.InputSize = 640
	}
	if d.InputSize < 32 || d.InputSize%32 != 0 {
		return fmt.Errorf("input_size must be a positive multiple of 32, got %d", d.InputSize)
	}

	if d.Confidence == 0 {
		d.Confidence = 0.5
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", d.Confidence)
	}
	if d.NMSThreshold == 0 {
		d.NMSThreshold = 0.45
	}
	if d.NMSThreshold < 0 || d.NMSThreshold > 1 {
		return fmt.Errorf("nms_threshold must be in [0,1], got %v", d.NMSThreshold)
	}

	if d.TargetClass == "" && d.TargetClassID == 0 {
		d.TargetClass = "person"
	}
	if d.TargetClassID < 0 {
		return fmt.Errorf("target_class_id must not be negative")
	}

	if d.SkipInterval == 0 {
		d.SkipInterval = 3
	}
	if d.SkipInterval < 1 {
		return fmt.Errorf("skip_interval must be >= 1, got %d", d.SkipInterval)
	}

	if d.CallTimeoutMS <= 0 {
		d.CallTimeoutMS = 2000
	}
	return nil
}

func validateOverlay(o *OverlayConfig) error {
	if o.Label == "" {
		o.Label = "People"
	}
	if o.Alpha == 0 {
		o.Alpha = 0.6
	}
	if o.Alpha < 0 || o.Alpha > 1 {
		return fmt.Errorf("alpha must be in [0,1], got %v", o.Alpha)
	}
	if o.Width == 0 && o.Height == 0 && o.X == 0 && o.Y == 0 {
		o.X, o.Y, o.Width, o.Height = 10, 10, 200, 50
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("panel width and height must be positive")
	}
	return nil
}
