package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"

	"github.com/andresmejia3/dfprep/internal/utils"
)

const megabyte = 1024 * 1024

// FrameSource opens a video for sequential frame access.
type FrameSource interface {
	Open(ctx context.Context, path string) (FrameReader, error)
}

// FrameReader walks a video one frame at a time. Frames are only decoded on
// request, so skipped frames never pay the decode cost.
type FrameReader interface {
	// Next advances to the next frame. It returns io.EOF after the last one.
	Next() error
	// Decode decodes the current frame.
	Decode() (image.Image, error)
	Close() error
}

// FFmpegSource decodes videos through an ffmpeg subprocess emitting MJPEG.
type FFmpegSource struct {
	FFmpegPath string
}

func (s FFmpegSource) Open(ctx context.Context, path string) (FrameReader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	cmd := utils.NewFFmpegCmd(ctx, s.FFmpegPath, path)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	return &ffmpegReader{cmd: cmd, out: out, stderr: stderr, scanner: scanner}, nil
}

type ffmpegReader struct {
	cmd     *exec.Cmd
	out     io.ReadCloser
	stderr  *bytes.Buffer
	scanner *bufio.Scanner
	done    bool
}

func (r *ffmpegReader) Next() error {
	if r.done {
		return io.EOF
	}
	if r.scanner.Scan() {
		return nil
	}
	r.done = true
	if err := r.scanner.Err(); err != nil {
		r.kill()
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, bytes.TrimSpace(r.stderr.Bytes()))
	}
	return io.EOF
}

func (r *ffmpegReader) Decode() (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(r.scanner.Bytes()))
}

func (r *ffmpegReader) Close() error {
	if !r.done {
		r.done = true
		r.kill()
	}
	return nil
}

// kill stops ffmpeg early and reaps it so no zombie is left behind.
func (r *ffmpegReader) kill() {
	r.out.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	r.cmd.Wait()
}
