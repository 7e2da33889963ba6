// Package degrade re-encodes HQ face crops at a ladder of JPEG qualities.
package degrade

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/dfprep/internal/metrics"
	"github.com/andresmejia3/dfprep/internal/report"
	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/corona10/goimagehash"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// ScenarioName is the directory name of a quality level, e.g. "q60".
func ScenarioName(level int) string {
	return fmt.Sprintf("q%d", level)
}

// LevelStats accumulates per-level output totals.
type LevelStats struct {
	Level     int
	Written   int
	Bytes     int64
	driftSum  int
	driftSeen int
}

// MeanDrift is the mean pHash distance between HQ and variant, or -1 when not measured.
func (s LevelStats) MeanDrift() float64 {
	if s.driftSeen == 0 {
		return -1
	}
	return float64(s.driftSum) / float64(s.driftSeen)
}

type Result struct {
	Summary *report.Summary
	Levels  []LevelStats
}

type Degrader struct {
	MeasureDrift bool
	log          *zap.Logger

	// Out receives the progress bar. Defaults to os.Stderr.
	Out io.Writer
}

func New(measureDrift bool, log *zap.Logger) *Degrader {
	return &Degrader{MeasureDrift: measureDrift, log: log, Out: os.Stderr}
}

// Degrade writes outputRoot/q<level>/<path relative to hqRoot> for every HQ
// image and level. Existing variants are overwritten.
func (d *Degrader) Degrade(ctx context.Context, hqRoot, outputRoot string, levels []int) (Result, error) {
	res := Result{Summary: report.New("DEGRADE", "variants")}
	for _, lvl := range levels {
		if lvl < 1 || lvl > 100 {
			return res, fmt.Errorf("quality level must be between 1 and 100, got %d", lvl)
		}
		res.Levels = append(res.Levels, LevelStats{Level: lvl})
	}

	images, err := utils.ListJPEGs(hqRoot)
	if err != nil {
		return res, fmt.Errorf("listing %s: %w", hqRoot, err)
	}
	if len(images) == 0 {
		fmt.Fprintf(d.Out, "⚠️  No images found in %s\n", hqRoot)
		res.Summary.Finish()
		return res, nil
	}
	fmt.Fprintf(d.Out, "🖼️  Found %d HQ images, writing %d quality levels\n", len(images), len(levels))

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("📉 Degrading"),
		progressbar.OptionSetWriter(d.Out),
		progressbar.OptionShowCount(),
	)

	for _, src := range images {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rel, err := filepath.Rel(hqRoot, src)
		if err != nil {
			return res, err
		}
		d.degradeImage(src, rel, outputRoot, res)
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(d.Out)

	for _, s := range res.Levels {
		note := fmt.Sprintf("%s: %d written, %s", ScenarioName(s.Level), s.Written, humanize.Bytes(uint64(s.Bytes)))
		if drift := s.MeanDrift(); drift >= 0 {
			note += fmt.Sprintf(", mean pHash distance %.2f", drift)
		}
		res.Summary.Note("%s", note)
	}
	res.Summary.Finish()
	metrics.StageDuration.WithLabelValues("degrade").Observe(res.Summary.Elapsed.Seconds())
	return res, nil
}

// degradeImage decodes src once and writes one variant per level.
func (d *Degrader) degradeImage(src, rel, outputRoot string, res Result) {
	img, err := decodeFile(src)
	if err != nil {
		d.log.Warn("unreadable image", zap.String("path", src), zap.Error(err))
		for range res.Levels {
			d.skip(res.Summary, types.SkipUnreadable, err)
		}
		return
	}

	var hqHash *goimagehash.ImageHash
	if d.MeasureDrift {
		if hqHash, err = goimagehash.PerceptionHash(img); err != nil {
			d.log.Debug("hashing failed", zap.String("path", src), zap.Error(err))
		}
	}

	for i := range res.Levels {
		stats := &res.Levels[i]
		dst := filepath.Join(outputRoot, ScenarioName(stats.Level), rel)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: stats.Level}); err != nil {
			d.skip(res.Summary, types.SkipWrite, err)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			d.log.Warn("failed to create directory", zap.String("path", dst), zap.Error(err))
			d.skip(res.Summary, types.SkipWrite, err)
			continue
		}
		if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
			d.log.Warn("failed to write variant", zap.String("path", dst), zap.Error(err))
			d.skip(res.Summary, types.SkipWrite, err)
			continue
		}

		stats.Written++
		stats.Bytes += int64(buf.Len())
		res.Summary.Record(nil)
		metrics.ImagesDegradedTotal.WithLabelValues(ScenarioName(stats.Level)).Inc()

		if hqHash != nil {
			if dist, ok := drift(hqHash, buf.Bytes()); ok {
				stats.driftSum += dist
				stats.driftSeen++
			}
		}
	}
}

func (d *Degrader) skip(s *report.Summary, reason types.SkipReason, err error) {
	s.Record(types.NewSkip(reason, err))
	metrics.SkipsTotal.WithLabelValues("degrade", string(reason)).Inc()
}

func drift(hq *goimagehash.ImageHash, variant []byte) (int, bool) {
	img, err := jpeg.Decode(bytes.NewReader(variant))
	if err != nil {
		return 0, false
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, false
	}
	dist, err := hq.Distance(h)
	if err != nil {
		return 0, false
	}
	return dist, true
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return jpeg.Decode(f)
}
