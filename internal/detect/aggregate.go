package detect

import (
	"image"
	"sort"
)

// Default aggregation thresholds.
const (
	DefaultConfidence   = 0.5
	DefaultNMSThreshold = 0.45
)

// AggregateOptions controls Count.
type AggregateOptions struct {
	// Confidence drops detections strictly below it
	Confidence float32
	// IoU suppresses boxes overlapping a kept box by more than it
	IoU float32
	// TargetClass is the class id that is counted
	TargetClass int
}

// DefaultAggregateOptions counts class 0 with the default thresholds.
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{
		Confidence:  DefaultConfidence,
		IoU:         DefaultNMSThreshold,
		TargetClass: 0,
	}
}

// Count filters, suppresses and counts detections of the target class.
func Count(dets []Detection, opts AggregateOptions) int {
	n := 0
	for _, d := range Suppress(dets, opts.Confidence, opts.IoU) {
		if d.ClassID == opts.TargetClass {
			n++
		}
	}
	return n
}

// Suppress drops low-confidence detections and runs greedy non-maximum
// suppression by descending confidence. Suppression is class-agnostic, which
// matches how a single-class counter treats overlapping boxes.
func Suppress(dets []Detection, confidence, iou float32) []Detection {
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < confidence || d.Box.Empty() {
			continue
		}
		kept = append(kept, d)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	out := kept[:0]
	for _, d := range kept {
		suppressed := false
		for _, k := range out {
			if IoU(d.Box, k.Box) > iou {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, d)
		}
	}
	return out
}

// IoU returns the intersection-over-union of two rectangles.
func IoU(a, b image.Rectangle) float32 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := area(inter)
	union := area(a) + area(b) - ia
	if union <= 0 {
		return 0
	}
	return float32(float64(ia) / float64(union))
}

func area(r image.Rectangle) int64 {
	return int64(r.Dx()) * int64(r.Dy())
}
