package streamcounter

import (
	"context"

	"github.com/e7canasta/stream-counter/internal/detect"
	"github.com/e7canasta/stream-counter/internal/framestore"
	"github.com/e7canasta/stream-counter/internal/media"
	"github.com/e7canasta/stream-counter/internal/rgb"
)

// Value types shared with the capture and detection packages.
type (
	CameraDescriptor = media.CameraDescriptor
	StreamGeometry   = media.StreamGeometry
	PixelFormat      = media.PixelFormat
	RawFrame         = media.RawFrame
	CountUpdate      = media.CountUpdate
	Detection        = detect.Detection
	Orientation      = rgb.Orientation
)

const (
	FormatNV12 = media.FormatNV12
	FormatRGB  = media.FormatRGB

	TopDown  = rgb.TopDown
	BottomUp = rgb.BottomUp
)

// DeviceLister enumerates capture devices.
type DeviceLister interface {
	ListCameras(ctx context.Context) ([]CameraDescriptor, error)
}

// FrameSource supplies raw frames from one opened device.
//
// Implementations must guarantee:
//   - Open fixes the geometry for the lifetime of the source
//   - ReadNext blocks at most one poll timeout and returns ErrNoFrame when
//     nothing arrived
//   - Close is idempotent
type FrameSource interface {
	// Open starts capture. Errors wrap ErrActivationFailed or
	// ErrFormatNegotiationFailed.
	Open(ctx context.Context, desc CameraDescriptor) (StreamGeometry, error)
	// ReadNext returns the next frame, ErrNoFrame, ErrEndOfStream, or an
	// error wrapping ErrReadFailed.
	ReadNext(ctx context.Context) (RawFrame, error)
	Close() error
}

// Presenter shows the latest published frame until ctx is done or the
// surface is closed. A closed surface ends the session.
type Presenter interface {
	Run(ctx context.Context, store *framestore.Store) error
}

// CountSink receives an update after every completed detection cycle.
// OnCount must not block.
type CountSink interface {
	OnCount(u CountUpdate)
}
