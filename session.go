package streamcounter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/stream-counter/internal/cadence"
	"github.com/e7canasta/stream-counter/internal/colorconv"
	"github.com/e7canasta/stream-counter/internal/detect"
	"github.com/e7canasta/stream-counter/internal/framestore"
	"github.com/e7canasta/stream-counter/internal/overlay"
	"github.com/e7canasta/stream-counter/internal/rgb"
)

const (
	// DefaultCycleDelay caps the capture loop at roughly 30 Hz
	DefaultCycleDelay = 33 * time.Millisecond
	// DefaultDiagnosticEvery is the number of cycles between diagnostic logs
	DefaultDiagnosticEvery = 30
	// DefaultStopTimeout bounds the join in Stop
	DefaultStopTimeout = 3 * time.Second
)

// SessionConfig parameterizes one streaming session. Zero values take the
// package defaults.
type SessionConfig struct {
	Camera      CameraDescriptor
	Orientation Orientation

	// SkipInterval runs the detector on every Nth cycle
	SkipInterval    uint64
	CycleDelay      time.Duration
	DiagnosticEvery uint64
	StopTimeout     time.Duration

	Aggregate detect.AggregateOptions
	Overlay   overlay.Options
}

// SessionStats is a point-in-time view of a session.
type SessionStats struct {
	ID                string
	Cycles            uint64
	Count             int64
	DetectorRuns      uint64
	InferenceFailures uint64
	NoFrames          uint64
	Degraded          bool
	Store             framestore.Stats
}

// Session owns the capture loop for one opened camera.
//
// The loop runs acquire → convert → (detect → aggregate) → overlay → publish
// on a single goroutine. The frame store is the only state shared with the
// presenter; the count and cycle counter are atomics.
type Session struct {
	id       string
	cfg      SessionConfig
	geom     StreamGeometry
	source   FrameSource
	detector detect.Detector
	sinks    []CountSink

	frame      *rgb.Image
	store      *framestore.Store
	compositor *overlay.Compositor
	throttle   detect.Throttle
	window     *cadence.Window

	count        atomic.Int64
	cycles       atomic.Uint64
	detectorRuns atomic.Uint64
	failures     atomic.Uint64
	noFrames     atomic.Uint64
	degraded     atomic.Bool

	// warned is true while a degraded-mode outage has been reported
	warned bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewSession sizes the display frame and the store for geom. A nil detector
// runs the session in degraded mode.
func NewSession(cfg SessionConfig, geom StreamGeometry, source FrameSource, detector detect.Detector, sinks ...CountSink) (*Session, error) {
	if source == nil {
		return nil, fmt.Errorf("session: frame source is required")
	}
	if geom.Width == 0 || geom.Height == 0 {
		return nil, fmt.Errorf("session: invalid geometry %s", geom)
	}

	if cfg.SkipInterval == 0 {
		cfg.SkipInterval = detect.DefaultSkipInterval
	}
	if cfg.CycleDelay <= 0 {
		cfg.CycleDelay = DefaultCycleDelay
	}
	if cfg.DiagnosticEvery == 0 {
		cfg.DiagnosticEvery = DefaultDiagnosticEvery
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Aggregate == (detect.AggregateOptions{}) {
		cfg.Aggregate = detect.DefaultAggregateOptions()
	}

	w, h := int(geom.Width), int(geom.Height)
	store, err := framestore.New(framestore.Layout{Width: w, Height: h, Orientation: cfg.Orientation})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Session{
		id:         uuid.New().String(),
		cfg:        cfg,
		geom:       geom,
		source:     source,
		detector:   detector,
		sinks:      sinks,
		frame:      rgb.New(w, h, cfg.Orientation),
		store:      store,
		compositor: overlay.New(cfg.Overlay),
		throttle:   detect.Throttle{Interval: cfg.SkipInterval},
		window:     cadence.NewWindow(int(cfg.DiagnosticEvery) + 1),
		done:       make(chan struct{}),
	}, nil
}

// ID returns the session identifier used in logs and count updates.
func (s *Session) ID() string { return s.id }

// Store returns the frame store the presenter reads from.
func (s *Session) Store() *framestore.Store { return s.store }

// Count returns the result of the last completed detection cycle.
func (s *Session) Count() int64 { return s.count.Load() }

// Cycles returns the number of frames processed.
func (s *Session) Cycles() uint64 { return s.cycles.Load() }

// Done is closed when the capture loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start launches the capture loop. A session runs at most once.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSessionStarted
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	slog.Info("stream-counter: session started",
		"session_id", s.id,
		"camera", s.cfg.Camera.FriendlyName,
		"geometry", s.geom.String(),
		"orientation", s.cfg.Orientation.String(),
		"skip_interval", s.cfg.SkipInterval,
		"detector", s.detector != nil,
	)

	go func() {
		defer close(s.done)
		err := s.run(runCtx)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// Wait blocks until the capture loop exits and returns its error. A
// cancelled context and end of stream are not errors.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop cancels the capture loop and waits up to timeout for it to exit.
// Zero uses the configured stop timeout. The caller closes the frame source
// only after Stop returns.
func (s *Session) Stop(timeout time.Duration) error {
	s.mu.Lock()
	started, cancel := s.started, s.cancel
	s.mu.Unlock()
	if !started {
		return nil
	}
	if timeout <= 0 {
		timeout = s.cfg.StopTimeout
	}

	cancel()

	select {
	case <-s.done:
	case <-time.After(timeout):
		slog.Warn("stream-counter: stop timeout exceeded, capture loop still running",
			"session_id", s.id,
			"timeout", timeout,
		)
		return ErrStopTimeout
	}

	st := s.Stats()
	slog.Info("stream-counter: session stopped",
		"session_id", s.id,
		"cycles", st.Cycles,
		"count", st.Count,
		"detector_runs", st.DetectorRuns,
		"inference_failures", st.InferenceFailures,
	)
	return nil
}

// Stats returns session statistics
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:                s.id,
		Cycles:            s.cycles.Load(),
		Count:             s.count.Load(),
		DetectorRuns:      s.detectorRuns.Load(),
		InferenceFailures: s.failures.Load(),
		NoFrames:          s.noFrames.Load(),
		Degraded:          s.degraded.Load(),
		Store:             s.store.Stats(),
	}
}

func (s *Session) run(ctx context.Context) error {
	delay := time.NewTimer(0)
	defer delay.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-delay.C:
		}

		err := s.cycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoFrame):
			s.noFrames.Add(1)
		case errors.Is(err, ErrEndOfStream):
			slog.Info("stream-counter: capture ended", "session_id", s.id, "cycles", s.cycles.Load())
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			slog.Error("stream-counter: capture loop stopped", "session_id", s.id, "error", err)
			return err
		}

		delay.Reset(s.cfg.CycleDelay)
	}
}

// cycle processes one frame. It returns ErrNoFrame when the poll timed out.
func (s *Session) cycle(ctx context.Context) error {
	raw, err := s.source.ReadNext(ctx)
	if err != nil {
		return err
	}

	if err := colorconv.Convert(s.frame, raw.Data, s.geom); err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	n := s.cycles.Load()
	if s.throttle.ShouldRun(n) {
		s.detectCycle(ctx, n)
	}

	s.compositor.Draw(s.frame, s.count.Load())
	if err := s.store.Publish(s.frame); err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	s.cycles.Add(1)
	s.window.Add(raw.Timestamp)
	if (n+1)%s.cfg.DiagnosticEvery == 0 {
		s.logDiagnostics(raw)
	}
	return nil
}

// detectCycle runs the detector and stores the aggregated count. Missing or
// failing detection yields count 0.
func (s *Session) detectCycle(ctx context.Context, n uint64) {
	var count int64
	if s.detector == nil {
		s.reportDegraded("detector unavailable, counting disabled", nil)
	} else {
		s.detectorRuns.Add(1)
		dets, err := s.detector.Detect(ctx, s.frame.ToNRGBA())
		if err != nil {
			s.failures.Add(1)
			s.reportDegraded("detection failed, count reset to 0", err)
		} else {
			count = int64(detect.Count(dets, s.cfg.Aggregate))
			s.recovered()
			slog.Debug("stream-counter: detection cycle",
				"cycle", n,
				"detections", len(dets),
				"count", count,
			)
		}
	}

	s.count.Store(count)
	s.emit(n, count)
}

// reportDegraded logs once per outage.
func (s *Session) reportDegraded(msg string, err error) {
	s.degraded.Store(true)
	if s.warned {
		return
	}
	s.warned = true
	if err != nil {
		slog.Warn("stream-counter: "+msg, "session_id", s.id, "error", err)
		return
	}
	slog.Warn("stream-counter: "+msg, "session_id", s.id)
}

func (s *Session) recovered() {
	if s.warned {
		slog.Info("stream-counter: detection recovered", "session_id", s.id)
	}
	s.warned = false
	s.degraded.Store(false)
}

func (s *Session) emit(n uint64, count int64) {
	if len(s.sinks) == 0 {
		return
	}
	u := CountUpdate{
		SessionID: s.id,
		Camera:    s.cfg.Camera.FriendlyName,
		Count:     count,
		Cycle:     n,
		Degraded:  s.degraded.Load(),
		Timestamp: time.Now(),
	}
	for _, sink := range s.sinks {
		sink.OnCount(u)
	}
}

func (s *Session) logDiagnostics(raw RawFrame) {
	st := s.window.Stats()
	slog.Info("stream-counter: pipeline diagnostics",
		"session_id", s.id,
		"cycles", s.cycles.Load(),
		"frame_seq", raw.Seq,
		"data_len", len(raw.Data),
		"expected_len", s.geom.FrameSize(),
		"count", s.count.Load(),
		"rate_fps", fmt.Sprintf("%.2f", st.RateMean),
		"jitter_ms", fmt.Sprintf("%.1f", st.JitterMean*1000),
		"stable", st.Stable,
		"no_frame_polls", s.noFrames.Load(),
	)
}
