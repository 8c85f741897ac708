package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Camera.VendorID != "32E6" || cfg.Camera.ProductID != "9221" {
		t.Errorf("camera target = %s:%s, want 32E6:9221", cfg.Camera.VendorID, cfg.Camera.ProductID)
	}
	if cfg.Detector.SkipInterval != 3 {
		t.Errorf("SkipInterval = %d, want 3", cfg.Detector.SkipInterval)
	}
	if cfg.Detector.Confidence != 0.5 || cfg.Detector.NMSThreshold != 0.45 {
		t.Errorf("thresholds = %v/%v, want 0.5/0.45", cfg.Detector.Confidence, cfg.Detector.NMSThreshold)
	}
	if cfg.Detector.InputSize != 640 {
		t.Errorf("InputSize = %d, want 640", cfg.Detector.InputSize)
	}
	if cfg.Detector.TargetClass != "person" {
		t.Errorf("TargetClass = %q, want person", cfg.Detector.TargetClass)
	}
	if cfg.CycleDelay() != 33*time.Millisecond {
		t.Errorf("CycleDelay() = %v, want 33ms", cfg.CycleDelay())
	}
	if cfg.ShutdownTimeout() != 3*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 3s", cfg.ShutdownTimeout())
	}
	if cfg.Display.Orientation != "top-down" || !cfg.Display.Enabled {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.Overlay.Width != 200 || cfg.Overlay.Height != 50 || cfg.Overlay.Alpha != 0.6 {
		t.Errorf("overlay = %+v", cfg.Overlay)
	}
	if cfg.MQTT.Broker != "" || cfg.MQTT.Topic != "" {
		t.Errorf("mqtt enabled by default: %+v", cfg.MQTT)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
instance_id: lobby-cam
camera:
  vendor_id: "046d"
  product_id: "085B"
display:
  enabled: false
  orientation: bottom-up
detector:
  backend: none
  skip_interval: 5
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Camera.VendorID != "046D" || cfg.Camera.ProductID != "085B" {
		t.Errorf("ids not upper-cased: %s:%s", cfg.Camera.VendorID, cfg.Camera.ProductID)
	}
	if cfg.Display.Enabled {
		t.Error("display.enabled: false ignored")
	}
	if cfg.Display.Orientation != "bottom-up" {
		t.Errorf("Orientation = %q", cfg.Display.Orientation)
	}
	if cfg.Detector.Backend != "none" || cfg.Detector.SkipInterval != 5 {
		t.Errorf("detector = %+v", cfg.Detector)
	}
	if cfg.MQTT.Topic != "stream-counter/lobby-cam/count" {
		t.Errorf("default topic = %q", cfg.MQTT.Topic)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"short vendor id", "camera: {vendor_id: \"32E\"}", "vendor_id"},
		{"non-hex product id", "camera: {product_id: \"92G1\"}", "product_id"},
		{"bad instance id", "instance_id: Lobby Cam", "instance_id"},
		{"negative skip", "detector: {skip_interval: -1}", "skip_interval"},
		{"confidence above one", "detector: {confidence: 1.5}", "confidence"},
		{"unknown backend", "detector: {backend: tensorrt}", "backend"},
		{"unparallel paths", "detector: {model_paths: [a.onnx, b.onnx], class_names_paths: [a.names]}", "parallel"},
		{"bad orientation", "display: {orientation: sideways}", "orientation"},
		{"half resolution", "camera: {width: 640}", "width and height"},
		{"bad alpha", "overlay: {alpha: -0.2}", "alpha"},
		{"bad yaml", "camera: [", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() accepted missing file")
	}
}
