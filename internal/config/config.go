package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete stream-counter configuration
type Config struct {
	InstanceID string         `yaml:"instance_id"`
	Camera     CameraConfig   `yaml:"camera"`
	Display    DisplayConfig  `yaml:"display"`
	Pipeline   PipelineConfig `yaml:"pipeline"`
	Detector   DetectorConfig `yaml:"detector"`
	Overlay    OverlayConfig  `yaml:"overlay"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
}

// CameraConfig selects and negotiates the capture device
type CameraConfig struct {
	VendorID      string `yaml:"vendor_id"`       // 4 hex digits, e.g. 32E6
	ProductID     string `yaml:"product_id"`      // 4 hex digits, e.g. 9221
	Width         int    `yaml:"width"`           // 0 = device default
	Height        int    `yaml:"height"`          // 0 = device default
	PollTimeoutMS int    `yaml:"poll_timeout_ms"` // ReadNext wait per poll
}

// DisplayConfig controls the presentation window
type DisplayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Sink        string `yaml:"sink"`        // autovideosink, ximagesink, fakesink
	Orientation string `yaml:"orientation"` // top-down, bottom-up
	RefreshHz   int    `yaml:"refresh_hz"`
	Title       string `yaml:"title"`
}

// PipelineConfig controls the capture loop cadence
type PipelineConfig struct {
	CycleDelayMS     int `yaml:"cycle_delay_ms"`     // fixed inter-iteration delay
	DiagnosticEvery  int `yaml:"diagnostic_every"`   // cycles between diagnostic logs
	ShutdownTimeoutS int `yaml:"shutdown_timeout_s"` // bounded join on stop
}

// DetectorConfig selects the detection backend and its artifacts
type DetectorConfig struct {
	Backend         string   `yaml:"backend"` // worker, gocv, none
	WorkerCommand   string   `yaml:"worker_command"`
	ModelPaths      []string `yaml:"model_paths"`
	ClassNamesPaths []string `yaml:"class_names_paths"`
	InputSize       int      `yaml:"input_size"`
	Confidence      float64  `yaml:"confidence"`
	NMSThreshold    float64  `yaml:"nms_threshold"`
	TargetClass     string   `yaml:"target_class"`
	TargetClassID   int      `yaml:"target_class_id"`
	SkipInterval    int      `yaml:"skip_interval"`
	CallTimeoutMS   int      `yaml:"call_timeout_ms"`
}

// OverlayConfig positions the count panel
type OverlayConfig struct {
	Label  string  `yaml:"label"`
	Alpha  float64 `yaml:"alpha"`
	X      int     `yaml:"x"`
	Y      int     `yaml:"y"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
}

// MQTTConfig contains the optional count publisher settings.
// An empty broker disables publishing.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
	QoS    byte   `yaml:"qos"`
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Display: DisplayConfig{Enabled: true},
	}
	if err := Validate(cfg); err != nil {
		// Defaults are constants; a failure here is a programming error.
		panic(fmt.Sprintf("config: defaults invalid: %v", err))
	}
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{
		Display: DisplayConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// PollTimeout is the per-poll wait of the frame source.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Camera.PollTimeoutMS) * time.Millisecond
}

// CycleDelay is the fixed delay between capture iterations.
func (c *Config) CycleDelay() time.Duration {
	return time.Duration(c.Pipeline.CycleDelayMS) * time.Millisecond
}

// ShutdownTimeout bounds the capture loop join.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Pipeline.ShutdownTimeoutS) * time.Second
}

// CallTimeout bounds one detector call.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Detector.CallTimeoutMS) * time.Millisecond
}
