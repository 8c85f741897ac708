package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/stream-counter/internal/media"
)

const (
	// DefaultPollTimeout bounds one ReadNext wait
	DefaultPollTimeout = 500 * time.Millisecond
	// DefaultStartTimeout bounds Open while waiting for the first negotiated sample
	DefaultStartTimeout = 5 * time.Second

	// frameSlack is the tolerated difference between delivered and expected bytes
	frameSlack = 1024
)

// SourceConfig contains configuration for the capture pipeline
type SourceConfig struct {
	// Width and Height request a resolution; 0 keeps the device default
	Width  int
	Height int
	// PollTimeout bounds each ReadNext call
	PollTimeout time.Duration
	// StartTimeout bounds Open
	StartTimeout time.Duration
}

// Stats contains capture statistics
type Stats struct {
	FramesCaptured uint64
	FramesDropped  uint64
	SizeMismatches uint64
	BusErrors      uint64
	Category       string // category of the last bus error
}

type sample struct {
	data []byte
	at   time.Time
	geom media.StreamGeometry
	ok   bool // geom was read from the sample caps
}

// Source captures NV12 frames from a V4L2 device through GStreamer.
//
// Pipeline structure:
//
//	v4l2src → videoconvert → videoscale → capsfilter(NV12) → appsink
//
// The appsink keeps only the latest buffer; ReadNext hands out frames in
// arrival order and never blocks longer than the poll timeout.
type Source struct {
	cfg SourceConfig

	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	geom     media.StreamGeometry
	pending  *sample
	fatal    error
	closed   bool
	device   string
	traceID  string
	firstLog bool

	samples  chan sample
	failures chan error

	seq            atomic.Uint64
	dropped        atomic.Uint64
	sizeMismatches atomic.Uint64
	busErrors      atomic.Uint64
	lastCategory   atomic.Int32
}

// NewSource creates a capture source. Call Open before ReadNext.
func NewSource(cfg SourceConfig) *Source {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	s := &Source{
		cfg:      cfg,
		samples:  make(chan sample, 1),
		failures: make(chan error, 1),
	}
	s.lastCategory.Store(int32(ErrCategoryUnknown))
	return s
}

// Open starts the device named by the descriptor's hardware link and waits
// for the first sample to learn the negotiated geometry.
func (s *Source) Open(ctx context.Context, desc media.CameraDescriptor) (media.StreamGeometry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != nil {
		return media.StreamGeometry{}, fmt.Errorf("%w: source already open", media.ErrActivationFailed)
	}
	if s.closed {
		return media.StreamGeometry{}, fmt.Errorf("%w: source closed", media.ErrActivationFailed)
	}

	device := media.LinkInstance(desc.HardwareLink)
	if device == "" {
		return media.StreamGeometry{}, fmt.Errorf("%w: empty hardware link", media.ErrActivationFailed)
	}

	pipeline, sink, err := s.buildPipeline(device)
	if err != nil {
		return media.StreamGeometry{}, fmt.Errorf("%w: %v", media.ErrActivationFailed, err)
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	s.pipeline = pipeline
	s.sink = sink
	s.cancel = cancel
	s.device = device
	s.traceID = uuid.New().String()

	s.wg.Add(1)
	go s.monitorBus(runCtx, pipeline)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		s.teardown()
		return media.StreamGeometry{}, fmt.Errorf("%w: failed to start pipeline: %v", media.ErrActivationFailed, err)
	}

	slog.Info("stream-counter: capture pipeline starting",
		"camera", desc.FriendlyName,
		"device", device,
		"requested", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"trace_id", s.traceID,
	)

	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case first := <-s.samples:
		geom := first.geom
		if !first.ok {
			if s.cfg.Width <= 0 || s.cfg.Height <= 0 {
				s.teardown()
				return media.StreamGeometry{}, fmt.Errorf("%w: sample carries no usable caps", media.ErrFormatNegotiationFailed)
			}
			geom = media.StreamGeometry{Width: uint32(s.cfg.Width), Height: uint32(s.cfg.Height), Format: media.FormatNV12}
		}
		s.geom = geom
		s.pending = &first

		slog.Info("stream-counter: capture pipeline negotiated",
			"device", device,
			"geometry", geom.String(),
			"frame_bytes", geom.FrameSize(),
			"trace_id", s.traceID,
		)
		return geom, nil

	case err := <-s.failures:
		s.teardown()
		return media.StreamGeometry{}, err

	case <-timer.C:
		s.teardown()
		return media.StreamGeometry{}, fmt.Errorf("%w: no frame within %s", media.ErrActivationFailed, s.cfg.StartTimeout)

	case <-ctx.Done():
		s.teardown()
		return media.StreamGeometry{}, ctx.Err()
	}
}

func (s *Source) buildPipeline(device string) (*gst.Pipeline, *app.Sink, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", device)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(s.cfg.Width, s.cfg.Height)))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, scaler, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to link capture pipeline: %w", err)
	}

	return pipeline, sink, nil
}

// buildCaps returns the NV12 caps string, with resolution when requested.
func buildCaps(width, height int) string {
	if width > 0 && height > 0 {
		return fmt.Sprintf("video/x-raw,format=NV12,width=%d,height=%d", width, height)
	}
	return "video/x-raw,format=NV12"
}

// onNewSample runs on a GStreamer streaming thread.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	smp := sink.PullSample()
	if smp == nil {
		slog.Warn("stream-counter: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := smp.GetBuffer()
	if buffer == nil {
		slog.Warn("stream-counter: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	out := sample{data: frameData, at: time.Now()}
	if caps := smp.GetCaps(); caps != nil && caps.GetSize() > 0 {
		structure := caps.GetStructureAt(0)
		out.geom, out.ok = geometryFromValues(func(key string) (interface{}, bool) {
			v, err := structure.GetValue(key)
			return v, err == nil
		})
	}

	// Keep only the newest frame.
	select {
	case s.samples <- out:
	default:
		select {
		case <-s.samples:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.samples <- out:
		default:
			s.dropped.Add(1)
		}
	}
	return gst.FlowOK
}

// monitorBus forwards the first fatal bus message to ReadNext.
func (s *Source) monitorBus(ctx context.Context, pipeline *gst.Pipeline) {
	defer s.wg.Done()

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("stream-counter: capture end of stream", "device", s.device)
			s.fail(media.ErrEndOfStream)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			s.busErrors.Add(1)
			s.lastCategory.Store(int32(category))

			detail := "unknown error"
			debug := ""
			if gerr != nil {
				detail = gerr.Error()
				debug = gerr.DebugString()
			}
			slog.Error("stream-counter: capture pipeline error",
				"error", detail,
				"debug", debug,
				"category", category.String(),
				"device", s.device,
				"frames_captured", s.seq.Load(),
			)

			if s.seq.Load() == 0 {
				s.fail(openError(category, detail))
			} else {
				s.fail(fmt.Errorf("%w [%s]: %s", media.ErrReadFailed, category, detail))
			}
			return
		}
	}
}

func (s *Source) fail(err error) {
	select {
	case s.failures <- err:
	default:
	}
}

// ReadNext returns the next frame, ErrNoFrame when the poll timeout elapses,
// ErrEndOfStream, or an error wrapping ErrReadFailed.
func (s *Source) ReadNext(ctx context.Context) (media.RawFrame, error) {
	s.mu.Lock()
	if s.pipeline == nil {
		s.mu.Unlock()
		return media.RawFrame{}, fmt.Errorf("%w: source not open", media.ErrReadFailed)
	}
	if s.fatal != nil {
		err := s.fatal
		s.mu.Unlock()
		return media.RawFrame{}, err
	}
	if p := s.pending; p != nil {
		s.pending = nil
		s.mu.Unlock()
		return s.deliver(*p), nil
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.PollTimeout)
	defer timer.Stop()

	select {
	case smp := <-s.samples:
		return s.deliver(smp), nil
	case err := <-s.failures:
		s.mu.Lock()
		s.fatal = err
		s.mu.Unlock()
		return media.RawFrame{}, err
	case <-timer.C:
		return media.RawFrame{}, media.ErrNoFrame
	case <-ctx.Done():
		return media.RawFrame{}, ctx.Err()
	}
}

func (s *Source) deliver(smp sample) media.RawFrame {
	seq := s.seq.Add(1)

	s.mu.Lock()
	geom := s.geom
	first := !s.firstLog
	s.firstLog = true
	s.mu.Unlock()

	verdict := checkFrameSize(len(smp.data), geom)
	if first {
		slog.Info("stream-counter: first frame received",
			"data_len", len(smp.data),
			"expected_nv12", media.StreamGeometry{Width: geom.Width, Height: geom.Height, Format: media.FormatNV12}.FrameSize(),
			"geometry", geom.String(),
			"verdict", verdict.String(),
		)
		if verdict == sizeNV12InRGB {
			slog.Warn("stream-counter: caps claim RGB but payload is NV12 sized")
		}
	}
	if verdict == sizeMismatch {
		s.sizeMismatches.Add(1)
		slog.Debug("stream-counter: frame size mismatch, processing best effort",
			"seq", seq,
			"data_len", len(smp.data),
			"expected", geom.FrameSize(),
		)
	}

	return media.RawFrame{Seq: seq, Timestamp: smp.at, Data: smp.data}
}

// Geometry returns the geometry negotiated by Open.
func (s *Source) Geometry() media.StreamGeometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geom
}

// Stats returns capture statistics
func (s *Source) Stats() Stats {
	return Stats{
		FramesCaptured: s.seq.Load(),
		FramesDropped:  s.dropped.Load(),
		SizeMismatches: s.sizeMismatches.Load(),
		BusErrors:      s.busErrors.Load(),
		Category:       ErrorCategory(s.lastCategory.Load()).String(),
	}
}

// Close stops the pipeline. It is safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.pipeline == nil {
		return nil
	}

	err := s.teardown()
	slog.Info("stream-counter: capture pipeline stopped",
		"device", s.device,
		"frames_captured", s.seq.Load(),
		"frames_dropped", s.dropped.Load(),
		"trace_id", s.traceID,
	)
	return err
}

// teardown stops the bus monitor and releases the pipeline. Caller holds mu.
func (s *Source) teardown() error {
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.pipeline != nil {
		if serr := s.pipeline.SetState(gst.StateNull); serr != nil {
			err = fmt.Errorf("failed to set pipeline to NULL: %w", serr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("stream-counter: capture bus monitor did not stop in time")
	}

	s.pipeline = nil
	s.sink = nil
	s.cancel = nil
	return err
}

type sizeVerdict int

const (
	sizeOK sizeVerdict = iota
	sizeMismatch
	sizeNV12InRGB
)

func (v sizeVerdict) String() string {
	switch v {
	case sizeOK:
		return "ok"
	case sizeNV12InRGB:
		return "nv12-in-rgb"
	default:
		return "mismatch"
	}
}

func checkFrameSize(n int, geom media.StreamGeometry) sizeVerdict {
	if within(n, int(geom.FrameSize())) {
		return sizeOK
	}
	if geom.Format == media.FormatRGB {
		nv12 := media.StreamGeometry{Width: geom.Width, Height: geom.Height, Format: media.FormatNV12}
		if within(n, int(nv12.FrameSize())) {
			return sizeNV12InRGB
		}
	}
	return sizeMismatch
}

func within(n, expected int) bool {
	d := n - expected
	return d >= -frameSlack && d <= frameSlack
}

// geometryFromValues reads width, height and format from caps fields.
func geometryFromValues(get func(key string) (interface{}, bool)) (media.StreamGeometry, bool) {
	w, wok := intField(get, "width")
	h, hok := intField(get, "height")
	if !wok || !hok || w <= 0 || h <= 0 {
		return media.StreamGeometry{}, false
	}

	v, ok := get("format")
	if !ok {
		return media.StreamGeometry{}, false
	}
	name, _ := v.(string)

	var format media.PixelFormat
	switch name {
	case "NV12":
		if w%2 != 0 || h%2 != 0 {
			return media.StreamGeometry{}, false
		}
		format = media.FormatNV12
	case "RGB":
		format = media.FormatRGB
	default:
		return media.StreamGeometry{}, false
	}

	return media.StreamGeometry{Width: uint32(w), Height: uint32(h), Format: format}, true
}

func intField(get func(key string) (interface{}, bool), key string) (int, bool) {
	v, ok := get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint:
		return int(n), true
	}
	return 0, false
}
