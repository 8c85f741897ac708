package detect

import (
	"image"

	"github.com/disintegration/imaging"
)

// resizeSquare scales img to size x size with bilinear filtering. The aspect
// ratio is not preserved; boxes are mapped back with independent x/y scales.
func resizeSquare(img image.Image, size int) *image.NRGBA {
	return imaging.Resize(img, size, size, imaging.Linear)
}

// packRGB drops the alpha channel of a top-down NRGBA image.
func packRGB(img *image.NRGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := out[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return out
}

// boxScaler maps center-format boxes in model input space back to frame
// pixels.
type boxScaler struct {
	scaleX float64
	scaleY float64
	bounds image.Rectangle
}

func newBoxScaler(frame image.Rectangle, inputSize int) boxScaler {
	return boxScaler{
		scaleX: float64(frame.Dx()) / float64(inputSize),
		scaleY: float64(frame.Dy()) / float64(inputSize),
		bounds: frame,
	}
}

// rect converts (cx, cy, w, h) in input space to a left/top rectangle in
// frame space, clipped to the frame.
func (s boxScaler) rect(cx, cy, w, h float32) image.Rectangle {
	left := (float64(cx) - float64(w)/2) * s.scaleX
	top := (float64(cy) - float64(h)/2) * s.scaleY
	width := float64(w) * s.scaleX
	height := float64(h) * s.scaleY

	r := image.Rect(
		int(left),
		int(top),
		int(left+width),
		int(top+height),
	).Add(s.bounds.Min)
	return r.Intersect(s.bounds)
}
