// Package rgb provides the interleaved RGB frame used between the color
// converter, detector, overlay and frame store.
//
// Rows are padded to a 4-byte boundary and may be stored bottom-up. All
// coordinate-based access (At, Set, Row) is top-left origin regardless of
// the storage orientation, so callers never need to know how rows are laid
// out in memory.
package rgb

import (
	"image"
	"image/color"
)

// Orientation describes the vertical order of rows in memory.
type Orientation int

const (
	// TopDown stores row 0 first (GStreamer raw video, negative-height DIBs).
	TopDown Orientation = iota
	// BottomUp stores the last row first (positive-height DIBs).
	BottomUp
)

// String returns the config spelling of the orientation.
func (o Orientation) String() string {
	switch o {
	case TopDown:
		return "top-down"
	case BottomUp:
		return "bottom-up"
	default:
		return "unknown"
	}
}

// ParseOrientation parses "top-down" or "bottom-up".
func ParseOrientation(s string) (Orientation, bool) {
	switch s {
	case "top-down", "":
		return TopDown, true
	case "bottom-up":
		return BottomUp, true
	default:
		return TopDown, false
	}
}

// Stride returns the padded row length for a width: (width*3 + 3) &^ 3.
func Stride(width int) int {
	return (width*3 + 3) &^ 3
}

// Image is a packed 24-bit RGB image with padded rows.
type Image struct {
	Pix         []byte
	Stride      int
	Width       int
	Height      int
	Orientation Orientation
}

// New allocates a zeroed image of the given size.
func New(width, height int, o Orientation) *Image {
	stride := Stride(width)
	return &Image{
		Pix:         make([]byte, stride*height),
		Stride:      stride,
		Width:       width,
		Height:      height,
		Orientation: o,
	}
}

// Size is the total buffer length in bytes (stride*height).
func (m *Image) Size() int {
	return m.Stride * m.Height
}

// RowOffset returns the byte offset of logical row y in Pix.
func (m *Image) RowOffset(y int) int {
	if m.Orientation == BottomUp {
		return (m.Height - 1 - y) * m.Stride
	}
	return y * m.Stride
}

// Row returns the width*3 pixel bytes of logical row y (padding excluded).
func (m *Image) Row(y int) []byte {
	off := m.RowOffset(y)
	return m.Pix[off : off+m.Width*3]
}

// ColorModel implements image.Image.
func (m *Image) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds implements image.Image.
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// At implements image.Image.
func (m *Image) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return color.RGBA{}
	}
	i := m.RowOffset(y) + x*3
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

// Set implements draw.Image. Alpha is ignored.
func (m *Image) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	m.SetRGB(x, y, rgba.R, rgba.G, rgba.B)
}

// SetRGB writes a pixel without color model conversion.
func (m *Image) SetRGB(x, y int, r, g, b uint8) {
	i := m.RowOffset(y) + x*3
	m.Pix[i] = r
	m.Pix[i+1] = g
	m.Pix[i+2] = b
}

// ToNRGBA copies the image into a top-down *image.NRGBA, the layout the
// imaging and gocv helpers expect.
func (m *Image) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(m.Bounds())
	for y := 0; y < m.Height; y++ {
		src := m.Row(y)
		dst := out.Pix[y*out.Stride : y*out.Stride+m.Width*4]
		for x := 0; x < m.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return out
}
