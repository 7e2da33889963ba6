// Package split partitions videos into train/test sets and projects the
// partition across every quality scenario.
package split

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/andresmejia3/dfprep/internal/metrics"
	"github.com/andresmejia3/dfprep/internal/report"
	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// ManifestFile is written at the root of every split tree.
const ManifestFile = "split_manifest.json"

// Assignment is the train/test partition of one label's videos.
type Assignment struct {
	Train []string `json:"train"`
	Test  []string `json:"test"`
}

// Manifest records how a split tree was produced.
type Manifest struct {
	Seed          int64                 `json:"seed"`
	TrainFraction float64               `json:"train_fraction"`
	Scenarios     []string              `json:"scenarios"`
	CreatedAt     time.Time             `json:"created_at"`
	Labels        map[string]Assignment `json:"labels"`
}

type Result struct {
	Summary     *report.Summary
	Assignments map[string]Assignment
	FilesCopied int
}

type Splitter struct {
	labels []string
	log    *zap.Logger

	// Out receives progress and warnings. Defaults to os.Stderr.
	Out io.Writer
}

func New(labels []string, log *zap.Logger) *Splitter {
	return &Splitter{labels: labels, log: log, Out: os.Stderr}
}

// Assign shuffles the sorted ids with a generator derived from seed and label
// and gives the first floor(fraction*N) to train.
func Assign(ids []string, label string, fraction float64, seed int64) Assignment {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	h := fnv.New64a()
	h.Write([]byte(label))
	rng := rand.New(rand.NewPCG(uint64(seed), h.Sum64()))
	rng.Shuffle(len(sorted), func(i, j int) { sorted[i], sorted[j] = sorted[j], sorted[i] })

	nTrain := int(math.Floor(fraction * float64(len(sorted))))
	return Assignment{
		Train: sorted[:nTrain:nTrain],
		Test:  sorted[nTrain:],
	}
}

// Split rebuilds outputDir from scratch: outputDir/{train,test}/<scenario>/<label>/<video>.
func (s *Splitter) Split(ctx context.Context, baseDir, outputDir string, scenarios []string, trainFraction float64, seed int64) (Result, error) {
	res := Result{
		Summary:     report.New("SPLIT", "video copies"),
		Assignments: make(map[string]Assignment),
	}
	if trainFraction <= 0 || trainFraction >= 1 {
		return res, fmt.Errorf("train fraction must be between 0.0 and 1.0 (exclusive), got %f", trainFraction)
	}
	if err := checkDisjoint(baseDir, outputDir); err != nil {
		return res, err
	}

	if err := os.RemoveAll(outputDir); err != nil {
		return res, fmt.Errorf("removing previous split %s: %w", outputDir, err)
	}

	copies := 0
	for _, label := range s.labels {
		hqDir := filepath.Join(baseDir, types.ScenarioHQ, label)
		ids, err := listVideoDirs(hqDir)
		if err != nil {
			fmt.Fprintf(s.Out, "⚠️  No HQ videos found in %s\n", hqDir)
			s.log.Warn("missing hq label directory", zap.String("path", hqDir), zap.Error(err))
			res.Summary.Record(types.NewSkip(types.SkipStructure, err))
			continue
		}
		a := Assign(ids, label, trainFraction, seed)
		res.Assignments[label] = a
		copies += len(ids) * len(scenarios)
		fmt.Fprintf(s.Out, "🔀 %s: %d videos -> %d train / %d test\n", label, len(ids), len(a.Train), len(a.Test))
	}

	if copies == 0 {
		copies = -1 // spinner
	}
	bar := progressbar.NewOptions(copies,
		progressbar.OptionSetDescription("📂 Copying"),
		progressbar.OptionSetWriter(s.Out),
		progressbar.OptionShowCount(),
	)

	for _, scenario := range scenarios {
		for _, label := range s.labels {
			a, ok := res.Assignments[label]
			if !ok {
				continue
			}
			for _, part := range []struct {
				split types.Split
				ids   []string
			}{{types.SplitTrain, a.Train}, {types.SplitTest, a.Test}} {
				for _, id := range part.ids {
					if err := ctx.Err(); err != nil {
						return res, err
					}
					n, err := s.copyVideo(baseDir, outputDir, part.split, scenario, label, id)
					res.Summary.Record(err)
					res.FilesCopied += n
					bar.Add(1)
				}
			}
		}
	}
	bar.Finish()
	fmt.Fprintln(s.Out)

	manifest := Manifest{
		Seed:          seed,
		TrainFraction: trainFraction,
		Scenarios:     scenarios,
		CreatedAt:     time.Now().UTC(),
		Labels:        res.Assignments,
	}
	if err := writeManifest(filepath.Join(outputDir, ManifestFile), manifest); err != nil {
		return res, fmt.Errorf("writing manifest: %w", err)
	}

	res.Summary.Note("%d files copied", res.FilesCopied)
	res.Summary.Note("seed %d, train fraction %.2f", seed, trainFraction)
	res.Summary.Finish()
	metrics.StageDuration.WithLabelValues("split").Observe(res.Summary.Elapsed.Seconds())
	return res, nil
}

func (s *Splitter) copyVideo(baseDir, outputDir string, split types.Split, scenario, label, id string) (int, error) {
	src := filepath.Join(baseDir, scenario, label, id)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		s.log.Debug("missing source", zap.String("path", src))
		metrics.SkipsTotal.WithLabelValues("split", string(types.SkipMissingSource)).Inc()
		return 0, types.NewSkip(types.SkipMissingSource, fmt.Errorf("%s not found", src))
	}
	dst := filepath.Join(outputDir, string(split), scenario, label, id)
	n, err := utils.CopyTree(src, dst)
	if err != nil {
		s.log.Warn("copy failed", zap.String("path", src), zap.Error(err))
		return n, types.NewSkip(types.SkipWrite, err)
	}
	metrics.FilesCopiedTotal.Add(float64(n))
	return n, nil
}

// listVideoDirs returns the sorted names of the video directories under dir.
func listVideoDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// checkDisjoint refuses an output directory whose removal would delete the inputs.
func checkDisjoint(baseDir, outputDir string) error {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return err
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(out, base)
	if err == nil && (rel == "." || !strings.HasPrefix(rel, "..")) {
		return fmt.Errorf("output directory %s contains the frame root %s", outputDir, baseDir)
	}
	return nil
}

func writeManifest(path string, m Manifest) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
}

// ReadManifest loads the manifest of an existing split tree.
func ReadManifest(outputDir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(outputDir, ManifestFile))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}
