// Package overlay draws the count panel onto display frames in place.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/e7canasta/stream-counter/internal/rgb"
)

// Options configures the panel. Zero fields fall back to Default; an Alpha
// outside (0,1] does too.
type Options struct {
	// Label precedes the count, e.g. "People"
	Label string
	// Alpha is the panel opacity in [0,1]
	Alpha float64
	// Panel is the panel rectangle in frame pixels
	Panel image.Rectangle
	// Baseline is the left end of the text baseline
	Baseline image.Point
	// Scale enlarges the 7x13 bitmap font by an integer factor
	Scale int
	PanelColor color.RGBA
	TextColor  color.RGBA
}

// Default is a black panel at (10,10) 200x50 with yellow text at (20,45).
func Default() Options {
	return Options{
		Label:      "People",
		Alpha:      0.6,
		Panel:      image.Rect(10, 10, 210, 60),
		Baseline:   image.Pt(20, 45),
		Scale:      2,
		PanelColor: color.RGBA{A: 0xff},
		TextColor:  color.RGBA{R: 0xff, G: 0xff, A: 0xff},
	}
}

// Compositor renders "<label>: <count>" over a translucent panel.
type Compositor struct {
	opts Options
	face font.Face

	// last rendered text and its glyph mask
	text string
	mask *image.Alpha
}

// New returns a compositor with opts, filling unset fields from Default.
func New(opts Options) *Compositor {
	def := Default()
	if opts.Label == "" {
		opts.Label = def.Label
	}
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		opts.Alpha = def.Alpha
	}
	if opts.Panel.Empty() {
		opts.Panel = def.Panel
	}
	if opts.Baseline == (image.Point{}) {
		opts.Baseline = def.Baseline
	}
	if opts.Scale < 1 {
		opts.Scale = def.Scale
	}
	if opts.TextColor == (color.RGBA{}) {
		opts.TextColor = def.TextColor
	}
	return &Compositor{opts: opts, face: basicfont.Face7x13}
}

// Options returns the effective options.
func (c *Compositor) Options() Options {
	return c.opts
}

// Text formats the label for a count.
func (c *Compositor) Text(count int64) string {
	return fmt.Sprintf("%s: %d", c.opts.Label, count)
}

// Draw blends the panel and writes the count. Anything outside img is clipped.
func (c *Compositor) Draw(img *rgb.Image, count int64) {
	c.blendPanel(img)
	c.drawText(img, c.Text(count))
}

// blendPanel applies p = a*panel + (1-a)*p over the panel rectangle.
func (c *Compositor) blendPanel(img *rgb.Image) {
	r := c.opts.Panel.Intersect(img.Bounds())
	if r.Empty() {
		return
	}

	a := c.opts.Alpha
	pc := [3]float64{
		a * float64(c.opts.PanelColor.R),
		a * float64(c.opts.PanelColor.G),
		a * float64(c.opts.PanelColor.B),
	}
	keep := 1 - a

	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Row(y)
		for x := r.Min.X; x < r.Max.X; x++ {
			i := x * 3
			row[i] = blend(pc[0], keep, row[i])
			row[i+1] = blend(pc[1], keep, row[i+1])
			row[i+2] = blend(pc[2], keep, row[i+2])
		}
	}
}

func blend(src, keep float64, dst uint8) uint8 {
	v := src + keep*float64(dst) + 0.5
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// drawText rasterizes text at 1x into an alpha mask, then paints each mask
// pixel as a Scale x Scale block.
func (c *Compositor) drawText(img *rgb.Image, text string) {
	mask := c.glyphs(text)
	metrics := c.face.Metrics()
	ascent := metrics.Ascent.Ceil()
	s := c.opts.Scale
	bounds := img.Bounds()
	tc := c.opts.TextColor

	originX := c.opts.Baseline.X
	originY := c.opts.Baseline.Y - ascent*s

	mb := mask.Bounds()
	for my := mb.Min.Y; my < mb.Max.Y; my++ {
		for mx := mb.Min.X; mx < mb.Max.X; mx++ {
			alpha := mask.AlphaAt(mx, my).A
			if alpha == 0 {
				continue
			}
			k := float64(alpha) / 255
			for dy := 0; dy < s; dy++ {
				y := originY + my*s + dy
				if y < bounds.Min.Y || y >= bounds.Max.Y {
					continue
				}
				row := img.Row(y)
				for dx := 0; dx < s; dx++ {
					x := originX + mx*s + dx
					if x < bounds.Min.X || x >= bounds.Max.X {
						continue
					}
					i := x * 3
					row[i] = blend(k*float64(tc.R), 1-k, row[i])
					row[i+1] = blend(k*float64(tc.G), 1-k, row[i+1])
					row[i+2] = blend(k*float64(tc.B), 1-k, row[i+2])
				}
			}
		}
	}
}

// glyphs returns the 1x mask for text, reusing the previous one when the
// text is unchanged.
func (c *Compositor) glyphs(text string) *image.Alpha {
	if c.mask != nil && c.text == text {
		return c.mask
	}

	metrics := c.face.Metrics()
	d := &font.Drawer{Face: c.face}
	width := d.MeasureString(text).Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	d.Dst = mask
	d.Src = image.Opaque
	d.Dot = fixed.Point26_6{X: 0, Y: metrics.Ascent}
	d.DrawString(text)

	c.text = text
	c.mask = mask
	return mask
}
