package overlay

import (
	"image"
	"testing"

	"github.com/e7canasta/stream-counter/internal/rgb"
)

func whiteFrame(w, h int, o rgb.Orientation) *rgb.Image {
	img := rgb.New(w, h, o)
	for y := 0; y < h; y++ {
		row := img.Row(y)
		for i := range row {
			row[i] = 255
		}
	}
	return img
}

func px(img *rgb.Image, x, y int) [3]byte {
	row := img.Row(y)
	return [3]byte{row[x*3], row[x*3+1], row[x*3+2]}
}

func TestDraw_PanelBlend(t *testing.T) {
	img := whiteFrame(640, 480, rgb.TopDown)
	c := New(Default())
	c.Draw(img, 3)

	// Inside the panel, away from the text: 0.6*0 + 0.4*255.
	if got := px(img, 200, 12); got != [3]byte{102, 102, 102} {
		t.Errorf("panel pixel = %v, want [102 102 102]", got)
	}
	// Outside the panel.
	for _, p := range []image.Point{{5, 5}, {210, 30}, {100, 60}, {639, 479}} {
		if got := px(img, p.X, p.Y); got != [3]byte{255, 255, 255} {
			t.Errorf("pixel %v = %v, want untouched white", p, got)
		}
	}
}

func TestDraw_TextIsYellow(t *testing.T) {
	img := whiteFrame(640, 480, rgb.BottomUp)
	c := New(Default())
	c.Draw(img, 12)

	yellow := 0
	for y := 10; y < 60; y++ {
		for x := 10; x < 210; x++ {
			if px(img, x, y) == [3]byte{255, 255, 0} {
				yellow++
			}
		}
	}
	if yellow == 0 {
		t.Fatal("no yellow text pixels inside the panel")
	}
	// Glyphs are drawn as 2x2 blocks.
	if yellow%4 != 0 {
		t.Errorf("yellow pixel count %d is not a multiple of the 2x2 block", yellow)
	}
}

func TestDraw_ClipsSmallFrame(t *testing.T) {
	img := whiteFrame(32, 16, rgb.TopDown)
	c := New(Default())
	c.Draw(img, 99999)

	if got := px(img, 15, 12); got == [3]byte{255, 255, 255} {
		t.Errorf("pixel inside clipped panel untouched")
	}
	if len(img.Pix) != img.Stride*16 {
		t.Error("Draw() resized the frame")
	}
}

func TestText(t *testing.T) {
	c := New(Options{Label: "Visitors"})
	if got := c.Text(7); got != "Visitors: 7" {
		t.Errorf("Text(7) = %q", got)
	}
	if got := New(Options{}).Text(0); got != "People: 0" {
		t.Errorf("default Text(0) = %q", got)
	}
}

func TestGlyphs_Cached(t *testing.T) {
	c := New(Default())
	a := c.glyphs("People: 1")
	b := c.glyphs("People: 1")
	if a != b {
		t.Error("glyph mask not reused for identical text")
	}
	if c.glyphs("People: 2") == a {
		t.Error("glyph mask reused for different text")
	}
}
