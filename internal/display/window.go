// Package display presents the latest composited frame through a GStreamer
// video sink.
package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/stream-counter/internal/framestore"
	"github.com/e7canasta/stream-counter/internal/rgb"
)

// ErrWindowClosed is returned by Run when the operator closes the window or
// the sink reaches end of stream.
var ErrWindowClosed = errors.New("display window closed")

// DefaultRefreshHz is the presentation rate when none is configured.
const DefaultRefreshHz = 30

// Config contains configuration for the display pipeline
type Config struct {
	// Sink is the GStreamer video sink factory (autovideosink, fakesink, ...)
	Sink      string
	RefreshHz int
	Title     string
}

// surface is where frames go; the GStreamer pipeline in production.
type surface interface {
	push(frame []byte) error
	// poll returns ErrWindowClosed or a pipeline error once the surface is gone
	poll() error
	close() error
}

// Window presents the frame store at a fixed refresh rate.
type Window struct {
	cfg Config

	// newSurface is replaced in tests
	newSurface func(layout framestore.Layout, stride int) (surface, error)
}

// New creates a display for cfg. The pipeline is built by Run.
func New(cfg Config) *Window {
	if cfg.RefreshHz <= 0 {
		cfg.RefreshHz = DefaultRefreshHz
	}
	if cfg.Sink == "" {
		cfg.Sink = "autovideosink"
	}
	w := &Window{cfg: cfg}
	w.newSurface = func(layout framestore.Layout, stride int) (surface, error) {
		return newGstSurface(cfg, layout, stride)
	}
	return w
}

// Run pushes the newest published frame every refresh tick until ctx is done
// or the window goes away. Closing the window returns ErrWindowClosed.
func (w *Window) Run(ctx context.Context, store *framestore.Store) error {
	layout := store.Layout()
	surf, err := w.newSurface(layout, store.Stride())
	if err != nil {
		return fmt.Errorf("failed to create display: %w", err)
	}
	defer func() {
		if err := surf.close(); err != nil {
			slog.Warn("stream-counter: display close failed", "error", err)
		}
	}()

	slog.Info("stream-counter: display started",
		"title", w.cfg.Title,
		"sink", w.cfg.Sink,
		"resolution", fmt.Sprintf("%dx%d", layout.Width, layout.Height),
		"orientation", layout.Orientation.String(),
		"refresh_hz", w.cfg.RefreshHz,
	)

	return runLoop(ctx, store, surf, time.Second/time.Duration(w.cfg.RefreshHz))
}

func runLoop(ctx context.Context, store *framestore.Store, surf surface, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	var pushed uint64
	for {
		select {
		case <-ctx.Done():
			slog.Debug("stream-counter: display stopping", "frames_presented", pushed)
			return nil
		case <-ticker.C:
		}

		if err := surf.poll(); err != nil {
			return err
		}

		var frame []byte
		store.Snapshot(func(v framestore.View) {
			if v.Seq == lastSeq {
				return
			}
			lastSeq = v.Seq
			// The sink keeps the buffer, so each push gets its own copy.
			frame = make([]byte, len(v.Pix))
			copy(frame, v.Pix)
		})
		if frame == nil {
			continue
		}

		if err := surf.push(frame); err != nil {
			return err
		}
		pushed++
	}
}

// gstSurface is appsrc → [videoflip] → videoconvert → sink.
type gstSurface struct {
	pipeline *gst.Pipeline
	src      *app.Source
	bus      *gst.Bus
}

// rawCaps describes the store buffer. GStreamer pads RGB rows to 4 bytes,
// which is exactly the store stride, so buffers go out unchanged.
func rawCaps(layout framestore.Layout, hz int) string {
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		layout.Width, layout.Height, hz)
}

func newGstSurface(cfg Config, layout framestore.Layout, stride int) (*gstSurface, error) {
	if stride != rgb.Stride(layout.Width) {
		return nil, fmt.Errorf("unsupported stride %d for width %d", stride, layout.Width)
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	src.SetCaps(gst.NewCapsFromString(rawCaps(layout, cfg.RefreshHz)))
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)
	src.SetProperty("format", gst.FormatTime)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	sink, err := gst.NewElement(cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", cfg.Sink, err)
	}
	sink.SetProperty("sync", false)

	elements := []*gst.Element{src.Element}
	if layout.Orientation == rgb.BottomUp {
		flip, err := gst.NewElement("videoflip")
		if err != nil {
			return nil, fmt.Errorf("failed to create videoflip: %w", err)
		}
		flip.SetProperty("video-direction", 5) // vertical flip
		elements = append(elements, flip)
	}
	elements = append(elements, converter, sink)

	pipeline.AddMany(elements...)
	if err := gst.ElementLinkMany(elements...); err != nil {
		return nil, fmt.Errorf("failed to link display pipeline: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start display pipeline: %w", err)
	}

	return &gstSurface{pipeline: pipeline, src: src, bus: pipeline.GetPipelineBus()}, nil
}

func (g *gstSurface) push(frame []byte) error {
	if ret := g.src.PushBuffer(gst.NewBufferFromBytes(frame)); ret != gst.FlowOK {
		if ret == gst.FlowFlushing || ret == gst.FlowEOS {
			return ErrWindowClosed
		}
		return fmt.Errorf("display push failed: flow %v", ret)
	}
	return nil
}

func (g *gstSurface) poll() error {
	for {
		msg := g.bus.TimedPop(time.Millisecond)
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return ErrWindowClosed
		case gst.MessageError:
			gerr := msg.ParseError()
			if gerr == nil {
				return fmt.Errorf("display pipeline error")
			}
			return classifySinkError(gerr.Error(), gerr.DebugString())
		}
	}
}

func (g *gstSurface) close() error {
	g.src.EndStream()
	if err := g.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// classifySinkError maps a closed output window to ErrWindowClosed.
func classifySinkError(msg, debug string) error {
	if strings.Contains(strings.ToLower(msg), "window was closed") {
		slog.Info("stream-counter: display window closed by operator")
		return ErrWindowClosed
	}
	slog.Error("stream-counter: display pipeline error", "error", msg, "debug", debug)
	return fmt.Errorf("display pipeline error: %s", msg)
}
