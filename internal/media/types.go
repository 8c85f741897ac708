// Package media holds the value types shared by the capture, conversion and
// session layers. The root package re-exports them.
package media

import (
	"fmt"
	"time"
)

// CameraDescriptor identifies one enumerated video source.
type CameraDescriptor struct {
	// FriendlyName is the human-readable device name
	FriendlyName string
	// HardwareLink is the opaque device path, e.g. USB\VID_32E6&PID_9221\...
	HardwareLink string
	// VendorID is 4 upper-case hex digits parsed from HardwareLink, or empty
	VendorID string
	// ProductID is 4 upper-case hex digits parsed from HardwareLink, or empty
	ProductID string
}

// PixelFormat is the memory layout of a raw frame.
type PixelFormat int

const (
	// FormatNV12 is 4:2:0 planar luma followed by interleaved UV at half resolution
	FormatNV12 PixelFormat = iota
	// FormatRGB is packed 24-bit RGB
	FormatRGB
)

// String returns the GStreamer caps name of the format.
func (f PixelFormat) String() string {
	switch f {
	case FormatNV12:
		return "NV12"
	case FormatRGB:
		return "RGB"
	default:
		return "unknown"
	}
}

// StreamGeometry is the negotiated output of a frame source. It is fixed for
// the lifetime of an open source.
type StreamGeometry struct {
	Width  uint32
	Height uint32
	Format PixelFormat
}

// FrameSize returns the expected byte length of a tightly packed raw frame.
func (g StreamGeometry) FrameSize() int {
	w, h := int(g.Width), int(g.Height)
	switch g.Format {
	case FormatRGB:
		return w * h * 3
	default:
		return w*h + w*h/2
	}
}

// String formats the geometry as "WxH FORMAT".
func (g StreamGeometry) String() string {
	return fmt.Sprintf("%dx%d %s", g.Width, g.Height, g.Format)
}

// RawFrame is one captured sample. Data is owned by the source and must not
// be retained after the next ReadNext.
type RawFrame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the sample was pulled
	Timestamp time.Time
	// Data is the raw pixel payload in the negotiated format
	Data []byte
}
