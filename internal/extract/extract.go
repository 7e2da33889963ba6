// Package extract samples frames from videos and writes one face crop per kept frame.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/ledger"
	"github.com/andresmejia3/dfprep/internal/metrics"
	"github.com/andresmejia3/dfprep/internal/report"
	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/andresmejia3/dfprep/internal/worker"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Detector returns every face found in an RGB frame, in model order.
type Detector interface {
	Detect(ctx context.Context, img *image.RGBA) ([]types.Detection, error)
}

// VideoResult describes one ProcessVideo call.
type VideoResult struct {
	VideoID     string
	Frames      int // frames read from the stream
	Saved       int
	Skipped     map[types.SkipReason]int
	AlreadyDone bool
	Faces       []types.FaceImage // one per saved frame, in frame order
}

// RunResult holds the frame-level and video-level summaries of a Run.
type RunResult struct {
	Frames *report.Summary
	Videos *report.Summary
}

type Extractor struct {
	cfg           config.Extract
	labels        []string
	minConfidence float64
	source        FrameSource
	detector      Detector
	ledger        ledger.Ledger
	log           *zap.Logger
	runID         string

	// Out receives progress bars. Defaults to os.Stderr.
	Out io.Writer
}

// New builds an extractor. l may be nil, in which case an existing output
// directory marks a video as done.
func New(cfg *config.Config, src FrameSource, det Detector, l ledger.Ledger, log *zap.Logger, runID string) *Extractor {
	return &Extractor{
		cfg:           cfg.Extract,
		labels:        cfg.Split.Labels,
		minConfidence: cfg.Detector.MinConfidence,
		source:        src,
		detector:      det,
		ledger:        l,
		log:           log,
		runID:         runID,
		Out:           os.Stderr,
	}
}

// ProcessVideo extracts faces from one video into outputDir/<video id>.
// A *types.Skip error means the whole video was skipped; any other error is fatal.
func (e *Extractor) ProcessVideo(ctx context.Context, videoPath, outputDir string) (VideoResult, error) {
	videoID := utils.VideoStem(videoPath)
	videoDir := filepath.Join(outputDir, videoID)
	unit := filepath.ToSlash(filepath.Join(filepath.Base(outputDir), videoID))
	res := VideoResult{VideoID: videoID, Skipped: make(map[types.SkipReason]int)}
	log := e.log.With(zap.String("video", unit))

	done, err := e.isDone(ctx, unit, videoDir)
	if err != nil {
		return res, err
	}
	if done {
		res.AlreadyDone = true
		return res, nil
	}

	reader, err := e.source.Open(ctx, videoPath)
	if err != nil {
		log.Warn("failed to open video", zap.Error(err))
		return res, types.NewSkip(types.SkipOpen, err)
	}
	defer reader.Close()

	// videoDir is created on the first write and removed again unless the
	// stream is read to the end, so an existing directory always means done
	completed := false
	defer func() {
		if completed {
			return
		}
		if err := os.RemoveAll(videoDir); err != nil {
			log.Warn("failed to clear partial output", zap.Error(err))
		}
	}()

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := reader.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// A truncated stream leaves the unit unmarked so the next run retries it
			log.Warn("video stream failed", zap.Int("frame", index), zap.Error(err))
			return res, types.NewSkip(types.SkipOpen, err)
		}
		res.Frames++

		if index%e.cfg.Stride != 0 {
			continue
		}

		path, err := e.processFrame(ctx, reader, index, videoDir)
		if err != nil {
			var skip *types.Skip
			if !errors.As(err, &skip) {
				return res, err
			}
			res.Skipped[skip.Reason]++
			metrics.SkipsTotal.WithLabelValues(ledger.StageExtract, string(skip.Reason)).Inc()
			log.Debug("frame skipped", zap.Int("frame", index), zap.String("reason", string(skip.Reason)), zap.Error(skip.Err))
			continue
		}
		res.Saved++
		res.Faces = append(res.Faces, types.FaceImage{
			VideoID:  videoID,
			Frame:    index,
			Label:    filepath.Base(outputDir),
			Scenario: filepath.Base(filepath.Dir(outputDir)),
			Path:     path,
		})
	}

	// An existing directory is the completion marker without a ledger,
	// including for videos where no frame held a face
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		return res, types.NewSkip(types.SkipWrite, err)
	}

	if e.ledger != nil {
		if err := e.ledger.Mark(ctx, ledger.Entry{
			Stage: ledger.StageExtract,
			Unit:  unit,
			Count: res.Saved,
			RunID: e.runID,
		}); err != nil {
			return res, fmt.Errorf("recording %s in ledger: %w", unit, err)
		}
	}
	completed = true
	return res, nil
}

// isDone applies the completion guard. With a ledger, a directory without a
// ledger entry is a partial run and is cleared, and an entry whose directory
// is gone is forgotten so the video is extracted again.
func (e *Extractor) isDone(ctx context.Context, unit, videoDir string) (bool, error) {
	_, statErr := os.Stat(videoDir)
	exists := statErr == nil

	if e.ledger == nil {
		return exists, nil
	}

	done, err := e.ledger.Done(ctx, ledger.StageExtract, unit)
	if err != nil {
		return false, fmt.Errorf("checking ledger for %s: %w", unit, err)
	}
	if done && exists {
		return true, nil
	}
	if done {
		e.log.Info("output missing for completed video, extracting again", zap.String("video", unit))
		if err := e.ledger.Forget(ctx, ledger.StageExtract, unit); err != nil {
			return false, fmt.Errorf("forgetting %s in ledger: %w", unit, err)
		}
		return false, nil
	}
	if exists {
		e.log.Info("clearing partial output", zap.String("video", unit))
		if err := os.RemoveAll(videoDir); err != nil {
			return false, fmt.Errorf("clearing partial output %s: %w", videoDir, err)
		}
	}
	return false, nil
}

// processFrame writes the face crop of one sampled frame and returns its path.
func (e *Extractor) processFrame(ctx context.Context, reader FrameReader, index int, videoDir string) (string, error) {
	frame, err := reader.Decode()
	if err != nil {
		return "", types.NewSkip(types.SkipConvert, err)
	}
	rgb, err := toRGBA(frame)
	if err != nil {
		return "", types.NewSkip(types.SkipConvert, err)
	}

	dets, err := e.detector.Detect(ctx, rgb)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, worker.ErrCrashed) {
			return "", err
		}
		return "", types.NewSkip(types.SkipDetect, err)
	}
	dets = filterConfidence(dets, e.minConfidence)

	face, ok := SelectFace(e.cfg.Policy, dets)
	if !ok {
		return "", types.NewSkip(types.SkipNoFace, nil)
	}

	box, ok := ClampBox(face, e.cfg.Padding, frame.Bounds())
	if !ok {
		return "", types.NewSkip(types.SkipEmptyCrop, fmt.Errorf("box %+v outside frame %v", face, frame.Bounds()))
	}

	crop, err := cropResize(frame, box, e.cfg.FaceSize)
	if err != nil {
		return "", types.NewSkip(types.SkipWrite, err)
	}

	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		return "", types.NewSkip(types.SkipWrite, err)
	}
	path := filepath.Join(videoDir, fmt.Sprintf("frame_%d.jpg", index))
	err = utils.WriteFileAtomic(path, func(w io.Writer) error {
		return jpeg.Encode(w, crop, &jpeg.Options{Quality: e.cfg.JPEGQuality})
	})
	if err != nil {
		return "", types.NewSkip(types.SkipWrite, err)
	}
	return path, nil
}

func filterConfidence(dets []types.Detection, minConfidence float64) []types.Detection {
	if minConfidence <= 0 {
		return dets
	}
	kept := dets[:0:0]
	for _, d := range dets {
		if d.Confidence >= minConfidence {
			kept = append(kept, d)
		}
	}
	return kept
}

// ListVideos returns the videos directly under dir with a configured extension, sorted.
func (e *Extractor) ListVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var videos []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range e.cfg.Extensions {
			if ext == strings.ToLower(want) {
				videos = append(videos, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	sort.Strings(videos)
	return videos, nil
}

// Run extracts every video under videoRoot/<label> into outputRoot/<label>.
func (e *Extractor) Run(ctx context.Context, videoRoot, outputRoot string) (RunResult, error) {
	res := RunResult{
		Frames: report.New("EXTRACT", "sampled frames"),
		Videos: report.New("EXTRACT", "videos"),
	}

	for _, label := range e.labels {
		labelDir := filepath.Join(videoRoot, label)
		videos, err := e.ListVideos(labelDir)
		if err != nil && !os.IsNotExist(err) {
			return res, fmt.Errorf("listing %s: %w", labelDir, err)
		}
		if len(videos) == 0 {
			fmt.Fprintf(e.Out, "⚠️  No videos (%s) found in %s\n", strings.Join(e.cfg.Extensions, ", "), labelDir)
			continue
		}

		bar := progressbar.NewOptions(len(videos),
			progressbar.OptionSetDescription(fmt.Sprintf("🎞️  %s", label)),
			progressbar.OptionSetWriter(e.Out),
			progressbar.OptionShowCount(),
		)

		outDir := filepath.Join(outputRoot, label)
		for _, video := range videos {
			vr, err := e.ProcessVideo(ctx, video, outDir)
			bar.Add(1)

			var skip *types.Skip
			switch {
			case errors.As(err, &skip):
				res.Videos.Record(skip)
				metrics.VideosProcessedTotal.WithLabelValues(label, string(skip.Reason)).Inc()
			case err != nil:
				bar.Finish()
				return res, err
			case vr.AlreadyDone:
				res.Videos.Record(types.NewSkip(types.SkipDone, nil))
				metrics.VideosProcessedTotal.WithLabelValues(label, string(types.SkipDone)).Inc()
			default:
				res.Videos.Record(nil)
				res.Frames.Add(vr.Saved, vr.Skipped)
				metrics.VideosProcessedTotal.WithLabelValues(label, "processed").Inc()
				metrics.FramesSavedTotal.WithLabelValues(label).Add(float64(vr.Saved))
			}
		}
		bar.Finish()
		fmt.Fprintln(e.Out)
	}

	res.Frames.Finish()
	res.Videos.Finish()
	metrics.StageDuration.WithLabelValues(ledger.StageExtract).Observe(res.Videos.Elapsed.Seconds())
	return res, nil
}
