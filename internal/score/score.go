// Package score runs registered classifiers over scenario image trees and
// collects one record per scored image.
package score

import (
	"context"
	"errors"
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
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Classifier returns P(fake) in [0,1] for one preprocessed image.
type Classifier interface {
	Predict(ctx context.Context, t Tensor) (float64, error)
}

// Model pairs a classifier with the only preprocessor it may be fed.
type Model struct {
	Name         string
	InputSize    int
	Classifier   Classifier
	Preprocessor Preprocessor
}

// Register binds a classifier to its preprocessor and input size.
func Register(name string, inputSize int, c Classifier, p Preprocessor) (Model, error) {
	if name == "" {
		return Model{}, fmt.Errorf("model name is required")
	}
	if inputSize < 1 {
		return Model{}, fmt.Errorf("model %s: input size must be >= 1, got %d", name, inputSize)
	}
	if c == nil {
		return Model{}, fmt.Errorf("model %s: classifier is required", name)
	}
	if p.Name == "" || p.Scale == ([3]float32{}) {
		return Model{}, fmt.Errorf("model %s: preprocessor is required", name)
	}
	return Model{Name: name, InputSize: inputSize, Classifier: c, Preprocessor: p}, nil
}

// Scenario is one named image root, e.g. {"q30", "frames/q30"}.
type Scenario struct {
	Name string
	Root string
}

// Enumerate lists every image under root in lexical order.
func Enumerate(root string) ([]string, error) {
	return utils.ListJPEGs(root)
}

type Pipeline struct {
	log *zap.Logger

	// Out receives progress bars and warnings. Defaults to os.Stderr.
	Out io.Writer
}

func NewPipeline(log *zap.Logger) *Pipeline {
	return &Pipeline{log: log, Out: os.Stderr}
}

// Score classifies each path with m. Per-image failures are counted in the
// summary and skipped; the only error is context cancellation.
// Records carry no scenario or model; callers fill them in.
func (p *Pipeline) Score(ctx context.Context, paths []string, m Model, labelFn LabelFunc) ([]types.ScoreRecord, *report.Summary, error) {
	if labelFn == nil {
		labelFn = DeriveLabel
	}
	sum := report.New(fmt.Sprintf("SCORE %s", m.Name), "images")
	records := make([]types.ScoreRecord, 0, len(paths))

	total := len(paths)
	if total == 0 {
		total = -1 // spinner
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(fmt.Sprintf("🧠 %s", m.Name)),
		progressbar.OptionSetWriter(p.Out),
		progressbar.OptionShowCount(),
	)
	defer bar.Finish()

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return records, sum, err
		}
		rec, err := p.scoreOne(ctx, path, m, labelFn)
		bar.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return records, sum, ctx.Err()
			}
			p.log.Warn("image skipped", zap.String("model", m.Name), zap.String("path", path), zap.Error(err))
			var skip *types.Skip
			if errors.As(err, &skip) {
				metrics.SkipsTotal.WithLabelValues("score", string(skip.Reason)).Inc()
			}
			sum.Record(err)
			continue
		}
		sum.Record(nil)
		records = append(records, rec)
	}
	sum.Finish()
	return records, sum, nil
}

func (p *Pipeline) scoreOne(ctx context.Context, path string, m Model, labelFn LabelFunc) (types.ScoreRecord, error) {
	label, labelStr, err := labelFn(path)
	if err != nil {
		return types.ScoreRecord{}, types.NewSkip(types.SkipStructure, err)
	}

	img, err := loadImage(path)
	if err != nil {
		return types.ScoreRecord{}, types.NewSkip(types.SkipUnreadable, err)
	}

	score, err := m.Classifier.Predict(ctx, m.Preprocessor.Prepare(img, m.InputSize))
	if err != nil {
		return types.ScoreRecord{}, types.NewSkip(types.SkipClassify, err)
	}
	if score < 0 || score > 1 {
		return types.ScoreRecord{}, types.NewSkip(types.SkipClassify, fmt.Errorf("score %f outside [0,1]", score))
	}

	video, frame := videoAndFrame(path)
	return types.ScoreRecord{
		Video:    video,
		Frame:    frame,
		Label:    label,
		LabelStr: labelStr,
		Score:    score,
	}, nil
}

// ScoreScenarios runs m over each scenario root and concatenates the records.
// Missing or empty scenarios are reported and skipped.
func (p *Pipeline) ScoreScenarios(ctx context.Context, m Model, scenarios []Scenario, labelFn LabelFunc) ([]types.ScoreRecord, []*report.Summary, error) {
	var all []types.ScoreRecord
	var sums []*report.Summary

	for _, sc := range scenarios {
		paths, err := Enumerate(sc.Root)
		if err != nil {
			return all, sums, fmt.Errorf("listing %s: %w", sc.Root, err)
		}
		if len(paths) == 0 {
			fmt.Fprintf(p.Out, "⚠️  No images found in '%s'. Skipping.\n", sc.Root)
			continue
		}
		fmt.Fprintf(p.Out, "\n🔎 Scoring %d images of scenario '%s' with %s\n", len(paths), sc.Name, m.Name)

		records, sum, err := p.Score(ctx, paths, m, labelFn)
		for i := range records {
			records[i].Scenario = sc.Name
		}
		metrics.ImagesScoredTotal.WithLabelValues(m.Name, sc.Name).Add(float64(len(records)))
		sum.Stage = fmt.Sprintf("SCORE %s/%s", m.Name, sc.Name)
		all = append(all, records...)
		sums = append(sums, sum)
		if err != nil {
			return all, sums, err
		}
	}
	return all, sums, nil
}

// Stress runs every model over every scenario, tagging records with the model name.
func (p *Pipeline) Stress(ctx context.Context, models []Model, scenarios []Scenario, labelFn LabelFunc) ([]types.ScoreRecord, []*report.Summary, error) {
	var all []types.ScoreRecord
	var sums []*report.Summary
	for _, m := range models {
		records, s, err := p.ScoreScenarios(ctx, m, scenarios, labelFn)
		for i := range records {
			records[i].Model = m.Name
		}
		all = append(all, records...)
		sums = append(sums, s...)
		if err != nil {
			return all, sums, err
		}
	}
	return all, sums, nil
}

// ScenarioRoots maps scenario names to directories under root.
func ScenarioRoots(root string, names []string) []Scenario {
	out := make([]Scenario, 0, len(names))
	for _, n := range names {
		out = append(out, Scenario{Name: n, Root: filepath.Join(root, n)})
	}
	return out
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return jpeg.Decode(f)
}
