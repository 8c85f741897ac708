package camera

import (
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/stream-counter/internal/media"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates the device is missing, busy or was unplugged
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryFormat indicates caps negotiation or pixel format failures
	ErrCategoryFormat
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryFormat:
		return "format"
	default:
		return "unknown"
	}
}

var formatKeywords = []string{
	"negotiat",
	"caps",
	"format",
	"could not convert",
	"no supported",
}

var deviceKeywords = []string{
	"no such file",
	"no such device",
	"cannot identify device",
	"could not open",
	"device or resource busy",
	"busy",
	"permission denied",
	"not a capture device",
	"resource not found",
	"device",
}

// ClassifyMessage categorizes a GStreamer error from its message and debug
// string. Format keywords win over device keywords because negotiation
// errors usually mention the device too.
func ClassifyMessage(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)
	if containsAny(combined, formatKeywords) {
		return ErrCategoryFormat
	}
	if containsAny(combined, deviceKeywords) {
		return ErrCategoryDevice
	}
	return ErrCategoryUnknown
}

// ClassifyGStreamerError is ClassifyMessage for a bus error.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyMessage(gerr.Error(), gerr.DebugString())
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// openError maps a failure while starting the pipeline to the matching
// capture sentinel.
func openError(category ErrorCategory, detail string) error {
	if category == ErrCategoryFormat {
		return fmt.Errorf("%w: %s", media.ErrFormatNegotiationFailed, detail)
	}
	return fmt.Errorf("%w [%s]: %s", media.ErrActivationFailed, category, detail)
}
