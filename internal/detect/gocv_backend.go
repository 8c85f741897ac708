//go:build gocv

package detect

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// dnnDetector runs a YOLOv8 ONNX export through OpenCV's DNN module.
type dnnDetector struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize int
	floor     float32
	closed    bool
}

func newGoCVDetector(modelPath string, inputSize int, floor float32) (Detector, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read ONNX model %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &dnnDetector{net: net, inputSize: inputSize, floor: floor}, nil
}

// Detect implements Detector.
func (d *dnnDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("%w: detector closed", ErrInference)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	size := d.inputSize
	input := packRGB(resizeSquare(img, size))

	mat, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC3, input)
	if err != nil {
		return nil, fmt.Errorf("%w: build input mat: %v", ErrInference, err)
	}
	defer mat.Close()

	// Input is already RGB, so no channel swap.
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("%w: unexpected output shape %v", ErrInference, dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrInference, err)
	}

	return parseYOLOv8(data, dims[1], dims[2], d.floor, newBoxScaler(img.Bounds(), size)), nil
}

// Close implements Detector.
func (d *dnnDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}
