// Package cadence measures how regularly pipeline cycles complete.
//
// The capture loop records one timestamp per published frame. Every
// diagnostic interval the session logs the resulting rate and jitter so an
// operator can tell a slow detector or a starved camera from a healthy 30 Hz
// loop.
package cadence

import (
	"math"
	"time"
)

const (
	// A window is stable when the rate stddev stays below 15% of the mean
	rateStabilityThreshold = 0.15
	// and the mean jitter stays below 20% of the expected interval.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes a run of cycle timestamps.
type Stats struct {
	Samples    int
	Span       time.Duration
	RateMean   float64 // cycles per second over Span
	RateStdDev float64
	RateMin    float64
	RateMax    float64
	// Jitter is the absolute deviation of each interval from 1/RateMean, in seconds
	JitterMean float64
	JitterMax  float64
	Stable     bool
}

// Compute derives rate and jitter statistics from ordered timestamps.
// Fewer than two timestamps yield a zero rate.
func Compute(times []time.Time) Stats {
	n := len(times)
	if n < 2 {
		return Stats{Samples: n}
	}

	span := times[n-1].Sub(times[0])
	if span <= 0 {
		return Stats{Samples: n, Span: span}
	}

	// n timestamps bound n-1 intervals.
	mean := float64(n-1) / span.Seconds()

	rates := make([]float64, 0, n-1)
	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := times[i].Sub(times[i-1]).Seconds()
		intervals = append(intervals, iv)
		if iv > 0 {
			rates = append(rates, 1/iv)
		}
	}

	st := Stats{Samples: n, Span: span, RateMean: mean}
	if len(rates) > 0 {
		st.RateMin, st.RateMax = rates[0], rates[0]
		var sq float64
		for _, r := range rates {
			st.RateMin = math.Min(st.RateMin, r)
			st.RateMax = math.Max(st.RateMax, r)
			sq += (r - mean) * (r - mean)
		}
		st.RateStdDev = math.Sqrt(sq / float64(len(rates)))
	}

	expected := 1 / mean
	var sum float64
	for _, iv := range intervals {
		j := math.Abs(iv - expected)
		sum += j
		st.JitterMax = math.Max(st.JitterMax, j)
	}
	st.JitterMean = sum / float64(len(intervals))

	st.Stable = st.RateStdDev < mean*rateStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// Window keeps the most recent timestamps in a fixed ring.
// It is not safe for concurrent use; the capture loop owns it.
type Window struct {
	buf  []time.Time
	next int
	full bool
}

// NewWindow returns a window holding up to size timestamps (minimum 2).
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{buf: make([]time.Time, size)}
}

// Add records a timestamp.
func (w *Window) Add(t time.Time) {
	w.buf[w.next] = t
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

// Len returns the number of recorded timestamps.
func (w *Window) Len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Times returns the recorded timestamps oldest first.
func (w *Window) Times() []time.Time {
	if !w.full {
		return append([]time.Time(nil), w.buf[:w.next]...)
	}
	out := make([]time.Time, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	return append(out, w.buf[:w.next]...)
}

// Stats computes statistics over the window contents.
func (w *Window) Stats() Stats {
	return Compute(w.Times())
}
