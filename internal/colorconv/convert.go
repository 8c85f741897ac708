// Package colorconv converts raw camera payloads into the padded RGB frame.
//
// This is the only place that knows about row orientation: it always writes
// through rgb.Image, which maps logical rows to storage rows.
package colorconv

import (
	"errors"
	"fmt"

	"github.com/e7canasta/stream-counter/internal/media"
	"github.com/e7canasta/stream-counter/internal/rgb"
)

// ErrGeometry is returned when the destination does not match the stream.
var ErrGeometry = errors.New("colorconv: destination geometry mismatch")

// BT.601 full-range coefficients.
const (
	coefRV = 1.370705
	coefGU = 0.337633
	coefGV = 0.698001
	coefBU = 1.732446
)

// Convert fills dst from src according to geom.Format.
//
// NV12 payloads shorter than w*h*3/2 are padded with neutral samples (Y=0,
// U=V=128) so a truncated frame still renders. RGB payloads are row-copied
// into the padded stride; missing bytes stay as they were.
func Convert(dst *rgb.Image, src []byte, geom media.StreamGeometry) error {
	if dst == nil || dst.Width != int(geom.Width) || dst.Height != int(geom.Height) {
		return fmt.Errorf("%w: stream %s", ErrGeometry, geom)
	}

	switch geom.Format {
	case media.FormatNV12:
		NV12ToRGB(dst, src)
	case media.FormatRGB:
		copyRGB(dst, src)
	default:
		return fmt.Errorf("colorconv: unsupported format %s", geom.Format)
	}
	return nil
}

// NV12ToRGB converts a 4:2:0 NV12 buffer sized for dst's dimensions.
func NV12ToRGB(dst *rgb.Image, src []byte) {
	w, h := dst.Width, dst.Height
	lumaSize := w * h

	for y := 0; y < h; y++ {
		row := dst.Row(y)
		lumaRow := y * w
		chromaRow := lumaSize + (y/2)*w

		for x := 0; x < w; x++ {
			luma := sample(src, lumaRow+x, 0)
			ci := chromaRow + (x &^ 1)
			u := sample(src, ci, 128) - 128
			v := sample(src, ci+1, 128) - 128

			r, g, b := YUVToRGB(luma, u, v)
			row[x*3] = r
			row[x*3+1] = g
			row[x*3+2] = b
		}
	}
}

// YUVToRGB applies the conversion to one pixel. u and v are already centered
// (stored value minus 128).
func YUVToRGB(y, u, v float64) (r, g, b uint8) {
	r = clamp(y + coefRV*v)
	g = clamp(y - coefGU*u - coefGV*v)
	b = clamp(y + coefBU*u)
	return r, g, b
}

func copyRGB(dst *rgb.Image, src []byte) {
	rowBytes := dst.Width * 3
	for y := 0; y < dst.Height; y++ {
		start := y * rowBytes
		if start >= len(src) {
			return
		}
		end := start + rowBytes
		if end > len(src) {
			end = len(src)
		}
		copy(dst.Row(y), src[start:end])
	}
}

func sample(src []byte, i int, fallback float64) float64 {
	if i < len(src) {
		return float64(src[i])
	}
	return fallback
}

func clamp(f float64) uint8 {
	if f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return uint8(f + 0.5)
}
