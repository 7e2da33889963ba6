// Package worker drives the external face detector process.
//
// Wire protocol (all integers big-endian):
//
//	request:  [len u32] [width u32] [height u32] [RGB bytes, width*height*3]
//	response: [len u32] [status u8] ...
//	  status 0: [count u32] then count × [x i32][y i32][w i32][h i32][confidence f32]
//	  status 1: [msgLen u32] [msg]
//
// Requests go over the child's stdin; responses come back over a dedicated
// pipe passed as FD 3 so stray prints on the child's stdout cannot corrupt framing.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
)

// ErrCrashed marks a broken pipe to the detector process. Unlike an error
// reported by the model, it is not recoverable for later frames.
var ErrCrashed = errors.New("detector process crashed")

// DetectorConfig selects the interpreter and script hosting the detector model.
type DetectorConfig struct {
	Python string
	Script string
}

type PythonDetector struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewPythonDetector starts the detector process. The process lives until Close.
func NewPythonDetector(ctx context.Context, id int, cfg DetectorConfig) (*PythonDetector, error) {
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("detector %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonDetector{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Detect sends one RGB frame and returns detections in the order the model emitted them.
func (w *PythonDetector) Detect(_ context.Context, img *image.RGBA) ([]types.Detection, error) {
	resp, err := w.Communicate(encodeFrame(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrashed, err)
	}
	return decodeDetections(resp)
}

// Communicate performs one framed request/response round trip.
func (w *PythonDetector) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // the child died (import error, OOM, ...)
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

func (w *PythonDetector) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// encodeFrame packs width, height and tightly packed RGB (alpha dropped).
func encodeFrame(img *image.RGBA) []byte {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	buf := make([]byte, 8+width*height*3)
	binary.BigEndian.PutUint32(buf[0:4], uint32(width))
	binary.BigEndian.PutUint32(buf[4:8], uint32(height))

	off := 8
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			buf[off] = row[x*4]
			buf[off+1] = row[x*4+1]
			buf[off+2] = row[x*4+2]
			off += 3
		}
	}
	return buf
}

// detectionSize is the wire size of one detection: four int32 box fields and a float32 confidence.
const detectionSize = 4*4 + 4

func decodeDetections(resp []byte) ([]types.Detection, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty detector response")
	}

	if status != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed detector error: %w", err)
		}
		if int64(msgLen) > int64(r.Len()) {
			return nil, fmt.Errorf("malformed detector error: length %d exceeds %d remaining bytes", msgLen, r.Len())
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed detector error: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("malformed detection count: %w", err)
	}

	if int64(count) > int64(r.Len()/detectionSize) {
		return nil, fmt.Errorf("malformed detection count %d for %d remaining bytes", count, r.Len())
	}

	faces := make([]types.Detection, 0, count)
	for i := uint32(0); i < count; i++ {
		var box [4]int32
		var conf float32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("malformed box %d: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &conf); err != nil {
			return nil, fmt.Errorf("malformed confidence %d: %w", i, err)
		}
		faces = append(faces, types.Detection{
			X:          int(box[0]),
			Y:          int(box[1]),
			W:          int(box[2]),
			H:          int(box[3]),
			Confidence: float64(conf),
		})
	}
	return faces, nil
}
