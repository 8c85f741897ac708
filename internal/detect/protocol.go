package detect

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single framed message (a 640x640 RGB request is
// about 1.2 MB).
const maxMessageSize = 64 << 20

// workerRequest is one frame sent to the worker process.
type workerRequest struct {
	// FrameData is packed RGB at InputSize x InputSize, top-down
	FrameData []byte                 `msgpack:"frame_data"`
	Width     int                    `msgpack:"width"`
	Height    int                    `msgpack:"height"`
	Meta      map[string]interface{} `msgpack:"meta"`
}

// workerDetection is a box in model input space, center format.
type workerDetection struct {
	ClassID    int        `msgpack:"class_id"`
	Confidence float32    `msgpack:"confidence"`
	Box        [4]float32 `msgpack:"box"` // cx, cy, w, h
}

// workerResponse answers the request with the same Seq.
type workerResponse struct {
	Seq        uint64            `msgpack:"seq"`
	Detections []workerDetection `msgpack:"detections"`
	LatencyMS  float64           `msgpack:"latency_ms"`
	Error      string            `msgpack:"error,omitempty"`
}

// writeMessage writes a 4-byte big-endian length prefix followed by the
// msgpack encoding of v, in a single Write.
func writeMessage(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v interface{}) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message length %d exceeds limit %d", n, maxMessageSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
