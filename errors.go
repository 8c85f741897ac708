package streamcounter

import (
	"errors"

	"github.com/e7canasta/stream-counter/internal/media"
)

var (
	// ErrNoDevicesFound is returned by Enumerate when no camera is present
	ErrNoDevicesFound = media.ErrNoDevicesFound
	// ErrActivationFailed means the selected camera could not be started
	ErrActivationFailed = media.ErrActivationFailed
	// ErrFormatNegotiationFailed means the camera cannot deliver NV12
	ErrFormatNegotiationFailed = media.ErrFormatNegotiationFailed
	// ErrNoFrame is the transient poll timeout of FrameSource.ReadNext
	ErrNoFrame = media.ErrNoFrame
	// ErrEndOfStream ends the capture loop without an error
	ErrEndOfStream = media.ErrEndOfStream
	// ErrReadFailed is a fatal capture error
	ErrReadFailed = media.ErrReadFailed

	// ErrSessionStarted is returned by Start on a session that already ran
	ErrSessionStarted = errors.New("session already started")
	// ErrStopTimeout is returned by Stop when the capture loop did not exit in time
	ErrStopTimeout = errors.New("capture loop did not stop in time")
)
