package media

import "errors"

// Capture errors shared by frame source implementations and the session loop.
var (
	// ErrNoDevicesFound is returned when enumeration finds zero video sources
	ErrNoDevicesFound = errors.New("no video capture devices found")
	// ErrActivationFailed means the capture device could not be started
	ErrActivationFailed = errors.New("capture device activation failed")
	// ErrFormatNegotiationFailed means the device cannot produce the requested format
	ErrFormatNegotiationFailed = errors.New("capture format negotiation failed")
	// ErrNoFrame is transient: the poll timeout elapsed without a frame
	ErrNoFrame = errors.New("no frame available")
	// ErrEndOfStream means the source will deliver no further frames
	ErrEndOfStream = errors.New("end of stream")
	// ErrReadFailed is a hard capture error; the acquisition loop stops
	ErrReadFailed = errors.New("frame read failed")
)
