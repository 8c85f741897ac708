package streamcounter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/stream-counter/internal/detect"
	"github.com/e7canasta/stream-counter/internal/framestore"
)

// fakeSource yields uniform grey NV12 frames, then the scripted tail.
type fakeSource struct {
	mu     sync.Mutex
	geom   StreamGeometry
	frames int     // frames to deliver before tail
	pre    []error // returned before any frame
	tail   error   // returned once frames are exhausted
	seq    uint64
	block  chan struct{}

	entered     chan struct{} // closed on the first ReadNext call
	enteredOnce sync.Once
}

func (f *fakeSource) Open(context.Context, CameraDescriptor) (StreamGeometry, error) {
	return f.geom, nil
}

func (f *fakeSource) ReadNext(ctx context.Context) (RawFrame, error) {
	if f.entered != nil {
		f.enteredOnce.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pre) > 0 {
		err := f.pre[0]
		f.pre = f.pre[1:]
		return RawFrame{}, err
	}
	if f.seq >= uint64(f.frames) {
		return RawFrame{}, f.tail
	}
	f.seq++

	data := make([]byte, f.geom.FrameSize())
	for i := range data {
		data[i] = 128
	}
	return RawFrame{Seq: f.seq, Timestamp: time.Now(), Data: data}, nil
}

func (f *fakeSource) Close() error { return nil }

type fakeDetector struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool // 1-based call numbers that fail
	dets  []Detection
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail[d.calls] {
		return nil, fmt.Errorf("%w: worker crashed", detect.ErrInference)
	}
	return d.dets, nil
}

func (d *fakeDetector) Close() error { return nil }

type recordingSink struct {
	mu      sync.Mutex
	updates []CountUpdate
}

func (r *recordingSink) OnCount(u CountUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs redirects the default logger for the duration of the test.
func captureLogs(t *testing.T) *lockedBuffer {
	t.Helper()
	buf := &lockedBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

var vga = StreamGeometry{Width: 640, Height: 480, Format: FormatNV12}

func testConfig() SessionConfig {
	return SessionConfig{
		Camera:       CameraDescriptor{FriendlyName: "test-cam"},
		SkipInterval: 3,
		CycleDelay:   time.Millisecond,
	}
}

func runToEnd(t *testing.T, s *Session) error {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop did not finish")
	}
	return s.Wait()
}

func TestSession_DegradedWithoutDetector(t *testing.T) {
	logs := captureLogs(t)
	src := &fakeSource{geom: vga, frames: 10, tail: ErrEndOfStream}
	sink := &recordingSink{}

	s, err := NewSession(testConfig(), vga, src, nil, sink)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := runToEnd(t, s); err != nil {
		t.Fatalf("Wait() error = %v, want nil at end of stream", err)
	}

	if got := s.Cycles(); got != 10 {
		t.Errorf("Cycles() = %d, want 10", got)
	}
	if got := s.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if got := strings.Count(logs.String(), "detector unavailable"); got != 1 {
		t.Errorf("degraded warning logged %d times, want 1", got)
	}
	if !s.Stats().Degraded {
		t.Error("Stats().Degraded = false")
	}

	// Cycles 0, 3, 6, 9 are detection cycles.
	if len(sink.updates) != 4 {
		t.Fatalf("sink got %d updates, want 4", len(sink.updates))
	}
	for i, u := range sink.updates {
		if u.Cycle != uint64(i*3) || u.Count != 0 || !u.Degraded || u.SessionID != s.ID() {
			t.Errorf("update %d = %+v", i, u)
		}
	}
}

func TestSession_ThrottledDetection(t *testing.T) {
	captureLogs(t)
	det := &fakeDetector{dets: []Detection{
		{ClassID: 0, Confidence: 0.9, Box: image.Rect(10, 10, 60, 110)},
		{ClassID: 0, Confidence: 0.4, Box: image.Rect(12, 12, 62, 112)},
		{ClassID: 0, Confidence: 0.8, Box: image.Rect(300, 100, 360, 220)},
		{ClassID: 2, Confidence: 0.95, Box: image.Rect(400, 300, 500, 400)},
	}}
	src := &fakeSource{geom: vga, frames: 10, tail: ErrEndOfStream}

	s, err := NewSession(testConfig(), vga, src, det)
	if err != nil {
		t.Fatal(err)
	}
	if err := runToEnd(t, s); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if det.calls != 4 {
		t.Errorf("detector called %d times over 10 cycles with interval 3, want 4", det.calls)
	}
	if got := s.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if st := s.Stats(); st.DetectorRuns != 4 || st.Degraded {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSession_InferenceFailuresReportedPerOutage(t *testing.T) {
	logs := captureLogs(t)
	det := &fakeDetector{
		fail: map[int]bool{1: true, 2: true, 4: true},
		dets: []Detection{{ClassID: 0, Confidence: 0.9, Box: image.Rect(0, 0, 10, 10)}},
	}
	src := &fakeSource{geom: vga, frames: 4, tail: ErrEndOfStream}

	cfg := testConfig()
	cfg.SkipInterval = 1
	s, err := NewSession(cfg, vga, src, det)
	if err != nil {
		t.Fatal(err)
	}
	if err := runToEnd(t, s); err != nil {
		t.Fatal(err)
	}

	out := logs.String()
	if got := strings.Count(out, "detection failed"); got != 2 {
		t.Errorf("failure warning logged %d times, want 2 (one per outage)", got)
	}
	if got := strings.Count(out, "detection recovered"); got != 1 {
		t.Errorf("recovery logged %d times, want 1", got)
	}
	if got := s.Count(); got != 0 {
		t.Errorf("Count() after failed cycle = %d, want 0", got)
	}
	if st := s.Stats(); st.InferenceFailures != 3 || !st.Degraded {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSession_TransientAndFatalReads(t *testing.T) {
	captureLogs(t)
	readErr := fmt.Errorf("%w [device]: device unplugged", ErrReadFailed)
	src := &fakeSource{
		geom:   vga,
		frames: 2,
		pre:    []error{ErrNoFrame, ErrNoFrame},
		tail:   readErr,
	}

	s, err := NewSession(testConfig(), vga, src, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = runToEnd(t, s)
	if !errors.Is(err, ErrReadFailed) {
		t.Fatalf("Wait() error = %v, want ErrReadFailed", err)
	}
	if st := s.Stats(); st.Cycles != 2 || st.NoFrames != 2 {
		t.Errorf("Stats() = %+v, want 2 cycles and 2 empty polls", st)
	}
}

func TestSession_PublishesCompositedFrames(t *testing.T) {
	captureLogs(t)
	src := &fakeSource{geom: vga, frames: 3, tail: ErrEndOfStream}

	s, err := NewSession(testConfig(), vga, src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := runToEnd(t, s); err != nil {
		t.Fatal(err)
	}

	ok := s.Store().Snapshot(func(v framestore.View) {
		if len(v.Pix) != v.Stride*v.Height || v.Stride != 1920 {
			t.Errorf("view len %d stride %d", len(v.Pix), v.Stride)
		}
		if v.Seq != 3 {
			t.Errorf("view seq = %d, want 3", v.Seq)
		}
		// Inside the panel the grey frame is darkened; outside it is untouched.
		if p := v.Pix[12*v.Stride+200*3]; p >= 128 {
			t.Errorf("panel pixel = %d, want darkened", p)
		}
		if p := v.Pix[400*v.Stride+600*3]; p != 128 {
			t.Errorf("frame pixel = %d, want 128", p)
		}
	})
	if !ok {
		t.Fatal("Snapshot() = false after three cycles")
	}
}

func TestSession_StartTwiceAndStopTimeout(t *testing.T) {
	captureLogs(t)
	block := make(chan struct{})
	entered := make(chan struct{})
	src := &fakeSource{geom: vga, frames: 1, tail: ErrEndOfStream, block: block, entered: entered}

	s, err := NewSession(testConfig(), vga, src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionStarted) {
		t.Errorf("second Start() error = %v, want ErrSessionStarted", err)
	}

	<-entered
	// ReadNext ignores cancellation while blocked, so the join times out.
	if err := s.Stop(20 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Stop() error = %v, want ErrStopTimeout", err)
	}

	close(block)
	if err := s.Stop(time.Second); err != nil {
		t.Errorf("Stop() after unblock error = %v", err)
	}
}

func TestSession_StopBeforeStart(t *testing.T) {
	s, err := NewSession(testConfig(), vga, &fakeSource{geom: vga}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(0); err != nil {
		t.Errorf("Stop() on idle session = %v", err)
	}
}

func TestNewSession_Validation(t *testing.T) {
	if _, err := NewSession(testConfig(), vga, nil, nil); err == nil {
		t.Error("NewSession(nil source) error = nil")
	}
	if _, err := NewSession(testConfig(), StreamGeometry{}, &fakeSource{}, nil); err == nil {
		t.Error("NewSession(zero geometry) error = nil")
	}

	s, err := NewSession(SessionConfig{}, vga, &fakeSource{geom: vga}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.cfg.SkipInterval != detect.DefaultSkipInterval || s.cfg.CycleDelay != DefaultCycleDelay ||
		s.cfg.StopTimeout != DefaultStopTimeout || s.cfg.Aggregate != detect.DefaultAggregateOptions() {
		t.Errorf("defaults not applied: %+v", s.cfg)
	}
}
