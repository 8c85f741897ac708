package detect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCallTimeout bounds one request/response exchange with the worker.
const DefaultCallTimeout = 2 * time.Second

// WorkerConfig configures the subprocess detector.
type WorkerConfig struct {
	// Command is the worker executable, e.g. models/run_worker.sh
	Command     string
	ModelPath   string
	InputSize   int
	Confidence  float64
	CallTimeout time.Duration
}

// WorkerStats are cumulative call counters.
type WorkerStats struct {
	Calls        uint64
	Failures     uint64
	StaleReplies uint64
	AvgLatencyMS float64
}

// Worker is a Detector backed by an external inference process.
//
// Requests are synchronous: Detect writes one frame and waits for the reply
// carrying the same sequence number. Replies that arrive after their call
// timed out are discarded.
type Worker struct {
	cfg WorkerConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	mu      sync.Mutex // serializes Detect
	seq     uint64
	replies chan workerResponse
	done    chan struct{} // closed when the reader exits
	broken  atomic.Bool   // set after a write timeout

	closeOnce sync.Once
	wg        sync.WaitGroup

	calls          uint64
	failures       uint64
	stale          uint64
	totalLatencyUS uint64
}

// StartWorker spawns the worker process:
//
//	<command> --model <path> --input-size <n> --confidence <c>
func StartWorker(ctx context.Context, cfg WorkerConfig) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, cfg.Command,
		"--model", cfg.ModelPath,
		"--input-size", fmt.Sprintf("%d", cfg.InputSize),
		"--confidence", fmt.Sprintf("%.2f", cfg.Confidence),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	slog.Info("stream-counter: detector worker spawned",
		"command", cfg.Command,
		"pid", cmd.Process.Pid,
		"model", cfg.ModelPath,
	)

	w := newWorker(cfg, stdin, stdout)
	w.cmd = cmd
	w.cancel = cancel

	w.wg.Add(2)
	go w.logStderr(stderr)
	go w.waitProcess(ctx)

	return w, nil
}

// newWorker wires a worker over an established connection and starts the
// reply reader.
func newWorker(cfg WorkerConfig, stdin io.WriteCloser, stdout io.Reader) *Worker {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	w := &Worker{
		cfg:     cfg,
		stdin:   stdin,
		replies: make(chan workerResponse, 1),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.readReplies(stdout)

	return w
}

// Detect implements Detector.
func (w *Worker) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	atomic.AddUint64(&w.calls, 1)
	start := time.Now()

	dets, err := w.call(ctx, img)
	if err != nil {
		atomic.AddUint64(&w.failures, 1)
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	atomic.AddUint64(&w.totalLatencyUS, uint64(time.Since(start).Microseconds()))
	return dets, nil
}

func (w *Worker) call(ctx context.Context, img image.Image) ([]Detection, error) {
	if w.broken.Load() {
		return nil, errors.New("worker unresponsive since previous write timeout")
	}
	select {
	case <-w.done:
		return nil, errors.New("worker exited")
	default:
	}

	size := w.cfg.InputSize
	input := packRGB(resizeSquare(img, size))
	bounds := img.Bounds()

	w.seq++
	seq := w.seq
	req := workerRequest{
		FrameData: input,
		Width:     size,
		Height:    size,
		Meta: map[string]interface{}{
			"seq":          seq,
			"timestamp":    time.Now().Format(time.RFC3339Nano),
			"frame_width":  bounds.Dx(),
			"frame_height": bounds.Dy(),
		},
	}

	timeout := time.NewTimer(w.cfg.CallTimeout)
	defer timeout.Stop()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeMessage(w.stdin, req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return nil, err
		}
	case <-timeout.C:
		w.broken.Store(true)
		return nil, errors.New("stdin write timeout (worker may be hung)")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		select {
		case resp := <-w.replies:
			if resp.Seq != seq {
				atomic.AddUint64(&w.stale, 1)
				slog.Debug("stream-counter: discarding stale worker reply",
					"reply_seq", resp.Seq,
					"want_seq", seq,
				)
				continue
			}
			if resp.Error != "" {
				return nil, fmt.Errorf("worker: %s", resp.Error)
			}
			return w.toDetections(resp, bounds), nil
		case <-w.done:
			return nil, errors.New("worker exited while waiting for reply")
		case <-timeout.C:
			return nil, fmt.Errorf("no reply within %v", w.cfg.CallTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (w *Worker) toDetections(resp workerResponse, frame image.Rectangle) []Detection {
	scaler := newBoxScaler(frame, w.cfg.InputSize)
	dets := make([]Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		box := scaler.rect(d.Box[0], d.Box[1], d.Box[2], d.Box[3])
		if box.Empty() {
			continue
		}
		dets = append(dets, Detection{
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			Box:        box,
		})
	}
	return dets
}

// readReplies forwards replies until stdout closes. A reply still sitting in
// the slot is replaced by the next one so a late answer cannot block the
// reader or shadow the reply the current call waits for.
func (w *Worker) readReplies(stdout io.Reader) {
	defer w.wg.Done()
	defer close(w.done)

	for {
		var resp workerResponse
		if err := readMessage(stdout, &resp); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("stream-counter: worker stdout closed")
			} else {
				slog.Error("stream-counter: failed to read worker reply", "error", err)
			}
			return
		}

		// Newest reply wins; the reader is the only sender, so after the
		// drain the slot is free.
		select {
		case w.replies <- resp:
		default:
			select {
			case old := <-w.replies:
				atomic.AddUint64(&w.stale, 1)
				slog.Debug("stream-counter: dropping stale worker reply",
					"dropped_seq", old.Seq,
					"seq", resp.Seq,
				)
			default:
			}
			w.replies <- resp
		}
	}
}

// logStderr maps worker log lines to slog levels.
func (w *Worker) logStderr(stderr io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("stream-counter: detector worker error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("stream-counter: detector worker warning", "log", line)
		default:
			slog.Debug("stream-counter: detector worker log", "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("stream-counter: error reading worker stderr", "error", err)
	}
}

// waitProcess reaps the worker so it never lingers as a zombie.
func (w *Worker) waitProcess(ctx context.Context) {
	defer w.wg.Done()

	err := w.cmd.Wait()
	switch {
	case ctx.Err() != nil:
		slog.Debug("stream-counter: detector worker exited (shutdown)", "pid", w.cmd.Process.Pid)
	case err != nil:
		slog.Error("stream-counter: detector worker exited unexpectedly",
			"pid", w.cmd.Process.Pid,
			"error", err,
		)
	default:
		slog.Info("stream-counter: detector worker exited", "pid", w.cmd.Process.Pid)
	}
}

// Stats returns cumulative call counters.
func (w *Worker) Stats() WorkerStats {
	calls := atomic.LoadUint64(&w.calls)
	failures := atomic.LoadUint64(&w.failures)
	var avg float64
	if ok := calls - failures; ok > 0 {
		avg = float64(atomic.LoadUint64(&w.totalLatencyUS)) / float64(ok) / 1000
	}
	return WorkerStats{
		Calls:        calls,
		Failures:     failures,
		StaleReplies: atomic.LoadUint64(&w.stale),
		AvgLatencyMS: avg,
	}
}

// Close closes stdin so the worker exits, then waits up to 2 seconds before
// killing it.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		if w.stdin != nil {
			w.stdin.Close()
		}

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			slog.Warn("stream-counter: detector worker stop timeout, killing process")
			if w.cancel != nil {
				w.cancel()
			}
			if w.cmd != nil && w.cmd.Process != nil {
				_ = w.cmd.Process.Kill()
			}
		}
		if w.cancel != nil {
			w.cancel()
		}

		stats := w.Stats()
		slog.Info("stream-counter: detector worker stopped",
			"calls", stats.Calls,
			"failures", stats.Failures,
			"avg_latency_ms", stats.AvgLatencyMS,
		)
	})
	return nil
}
