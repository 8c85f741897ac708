package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	streamcounter "github.com/e7canasta/stream-counter"
	"github.com/e7canasta/stream-counter/internal/config"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// shortSource delivers a few grey frames and then ends the stream.
type shortSource struct {
	geom   streamcounter.StreamGeometry
	frames int
	seq    uint64
}

func (s *shortSource) Open(context.Context, streamcounter.CameraDescriptor) (streamcounter.StreamGeometry, error) {
	return s.geom, nil
}

func (s *shortSource) ReadNext(context.Context) (streamcounter.RawFrame, error) {
	if s.seq >= uint64(s.frames) {
		return streamcounter.RawFrame{}, streamcounter.ErrEndOfStream
	}
	s.seq++
	data := make([]byte, s.geom.FrameSize())
	for i := range data {
		data[i] = 128
	}
	return streamcounter.RawFrame{Seq: s.seq, Timestamp: time.Now(), Data: data}, nil
}

func (s *shortSource) Close() error { return nil }

func TestMissingModelWarnsOnce(t *testing.T) {
	logs := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Detector.ModelPaths = []string{filepath.Join(dir, "yolov8n.onnx")}
	cfg.Detector.ClassNamesPaths = []string{filepath.Join(dir, "coco.names")}

	detector, aggregate := loadDetector(context.Background(), cfg)
	if detector != nil {
		t.Fatal("loadDetector() returned a detector without a model")
	}

	geom := streamcounter.StreamGeometry{Width: 640, Height: 480, Format: streamcounter.FormatNV12}
	session, err := streamcounter.NewSession(streamcounter.SessionConfig{
		Camera:     streamcounter.CameraDescriptor{FriendlyName: "test-cam"},
		CycleDelay: time.Millisecond,
		Aggregate:  aggregate,
	}, geom, &shortSource{geom: geom, frames: 5}, detector)
	if err != nil {
		t.Fatal(err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop did not finish")
	}
	if err := session.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	out := logs.String()
	if got := strings.Count(out, "level=WARN"); got != 1 {
		t.Errorf("WARN lines = %d, want 1:\n%s", got, out)
	}
	if !strings.Contains(out, "detector unavailable") {
		t.Errorf("missing degraded warning:\n%s", out)
	}
	if session.Count() != 0 {
		t.Errorf("Count() = %d, want 0", session.Count())
	}
}
