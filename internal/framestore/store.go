// Package framestore holds the single shared display frame.
//
// The capture loop publishes each composited frame and the presenter reads
// the latest one. Both sides go through the same mutex, and the mutex is held
// only for the duration of a copy, so the presenter never observes a
// partially written frame.
package framestore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/stream-counter/internal/rgb"
)

// ErrGeometryMismatch is returned by Publish when the source frame does not
// match the store layout.
var ErrGeometryMismatch = errors.New("framestore: geometry mismatch")

// Layout fixes the size of the store. It cannot change after New.
type Layout struct {
	Width       int
	Height      int
	Orientation rgb.Orientation
}

// View is a borrowed, read-only look at the stored frame. It is valid only
// inside the Snapshot callback.
type View struct {
	Pix         []byte
	Stride      int
	Width       int
	Height      int
	Orientation rgb.Orientation
	// Seq is the publish sequence of this frame (1 for the first publish)
	Seq uint64
	// PublishedAt is when this frame was published
	PublishedAt time.Time
}

// Stats is a snapshot of store activity.
type Stats struct {
	Published   uint64
	Snapshots   uint64
	Rejected    uint64
	LastPublish time.Time
}

// Store is the mutex-guarded display frame.
type Store struct {
	mu          sync.Mutex
	frame       *rgb.Image
	seq         uint64
	publishedAt time.Time

	snapshots uint64 // atomic
	rejected  uint64 // atomic
}

// New allocates the display buffer once (stride*height bytes).
func New(layout Layout) (*Store, error) {
	if layout.Width <= 0 || layout.Height <= 0 {
		return nil, fmt.Errorf("framestore: invalid layout %dx%d", layout.Width, layout.Height)
	}
	return &Store{
		frame: rgb.New(layout.Width, layout.Height, layout.Orientation),
	}, nil
}

// Layout returns the fixed layout of the store.
func (s *Store) Layout() Layout {
	return Layout{
		Width:       s.frame.Width,
		Height:      s.frame.Height,
		Orientation: s.frame.Orientation,
	}
}

// Stride returns the padded row length of the stored frame.
func (s *Store) Stride() int {
	return s.frame.Stride
}

// Publish copies src into the store.
//
// Semantics:
//   - Copies row by row through both images' row mapping, so strides and
//     orientations may differ between src and the store
//   - Never reallocates the store buffer
//   - Returns ErrGeometryMismatch if src dimensions differ from the layout
//
// Thread-safety: the store mutex is held only across the copy.
func (s *Store) Publish(src *rgb.Image) error {
	if src == nil || src.Width != s.frame.Width || src.Height != s.frame.Height {
		atomic.AddUint64(&s.rejected, 1)
		if src == nil {
			return fmt.Errorf("%w: nil frame", ErrGeometryMismatch)
		}
		return fmt.Errorf("%w: got %dx%d, store %dx%d",
			ErrGeometryMismatch, src.Width, src.Height, s.frame.Width, s.frame.Height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if src.Stride == s.frame.Stride && src.Orientation == s.frame.Orientation {
		copy(s.frame.Pix, src.Pix)
	} else {
		for y := 0; y < src.Height; y++ {
			copy(s.frame.Row(y), src.Row(y))
		}
	}
	s.seq++
	s.publishedAt = time.Now()
	return nil
}

// Snapshot calls fn with a view of the latest frame while holding the lock.
// It returns false, without calling fn, if nothing has been published yet.
//
// fn must not retain the view or call back into the store.
func (s *Store) Snapshot(fn func(View)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq == 0 {
		return false
	}
	atomic.AddUint64(&s.snapshots, 1)
	fn(View{
		Pix:         s.frame.Pix,
		Stride:      s.frame.Stride,
		Width:       s.frame.Width,
		Height:      s.frame.Height,
		Orientation: s.frame.Orientation,
		Seq:         s.seq,
		PublishedAt: s.publishedAt,
	})
	return true
}

// CopyTo copies the latest frame into dst, which must hold at least
// stride*height bytes. It returns the sequence copied, or 0 if nothing has
// been published.
func (s *Store) CopyTo(dst []byte) (uint64, error) {
	var seq uint64
	var err error
	s.Snapshot(func(v View) {
		if len(dst) < len(v.Pix) {
			err = fmt.Errorf("framestore: destination holds %d bytes, need %d", len(dst), len(v.Pix))
			return
		}
		copy(dst, v.Pix)
		seq = v.Seq
	})
	return seq, err
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	published, last := s.seq, s.publishedAt
	s.mu.Unlock()

	return Stats{
		Published:   published,
		Snapshots:   atomic.LoadUint64(&s.snapshots),
		Rejected:    atomic.LoadUint64(&s.rejected),
		LastPublish: last,
	}
}
