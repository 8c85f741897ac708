//go:build !gocv

package detect

import "errors"

func newGoCVDetector(string, int, float32) (Detector, error) {
	return nil, errors.New("binary built without the gocv tag")
}
