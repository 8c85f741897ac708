package detect

// DefaultSkipInterval runs detection on every third cycle.
const DefaultSkipInterval = 3

// Throttle decides which cycles run the detector.
type Throttle struct {
	// Interval is the number of cycles between detector runs (>= 1)
	Interval uint64
}

// ShouldRun reports whether cycle n runs the detector. Cycle 0 always runs.
// An Interval of 0 is treated as 1.
func (t Throttle) ShouldRun(n uint64) bool {
	if t.Interval <= 1 {
		return true
	}
	return n%t.Interval == 0
}
