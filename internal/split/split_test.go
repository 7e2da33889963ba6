package split

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var labels = []string{types.LabelReal, types.LabelFake}

// buildFrames creates base/<scenario>/<label>/<video>/frame_0.jpg for n videos per label.
func buildFrames(t *testing.T, base string, scenarios []string, n int) {
	t.Helper()
	for _, sc := range scenarios {
		for _, label := range labels {
			for i := 0; i < n; i++ {
				dir := filepath.Join(base, sc, label, fmt.Sprintf("%s_%02d", label[7:], i))
				require.NoError(t, os.MkdirAll(dir, 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_0.jpg"), []byte(sc), 0o644))
			}
		}
	}
}

func newTestSplitter() *Splitter {
	s := New(labels, zap.NewNop())
	s.Out = io.Discard
	return s
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSplit_Counts(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "frames")
	out := filepath.Join(root, "frames_split")
	scenarios := []string{"hq", "q60", "q30", "q10"}
	buildFrames(t, base, scenarios, 10)

	res, err := newTestSplitter().Split(context.Background(), base, out, scenarios, 0.65, 42)
	require.NoError(t, err)

	for _, label := range labels {
		train := listDir(t, filepath.Join(out, "train", "hq", label))
		test := listDir(t, filepath.Join(out, "test", "hq", label))
		assert.Len(t, train, 6, label)
		assert.Len(t, test, 4, label)

		// No leakage: no video appears in both splits
		for _, v := range train {
			assert.NotContains(t, test, v)
		}

		// Identical partition across every scenario
		for _, sc := range scenarios[1:] {
			assert.Equal(t, train, listDir(t, filepath.Join(out, "train", sc, label)), sc)
			assert.Equal(t, test, listDir(t, filepath.Join(out, "test", sc, label)), sc)
		}
	}

	assert.Equal(t, 80, res.Summary.Processed)
	assert.Equal(t, 80, res.FilesCopied)

	got, err := os.ReadFile(filepath.Join(out, "train", "q30", types.LabelReal, res.Assignments[types.LabelReal].Train[0], "frame_0.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "q30", string(got), "scenario copy must come from its own scenario root")
}

func TestSplit_SeedDeterminism(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("vid%02d", i)
	}

	a := Assign(ids, types.LabelFake, 0.65, 7)
	b := Assign(ids, types.LabelFake, 0.65, 7)
	assert.Equal(t, a, b)

	// Input order must not matter
	reversed := append([]string(nil), ids...)
	sort.Sort(sort.Reverse(sort.StringSlice(reversed)))
	assert.Equal(t, a, Assign(reversed, types.LabelFake, 0.65, 7))

	assert.Len(t, a.Train, 16)
	assert.Len(t, a.Test, 9)

	c := Assign(ids, types.LabelFake, 0.65, 8)
	assert.NotEqual(t, a, c, "different seeds should reshuffle")
}

func TestAssign_SmallN(t *testing.T) {
	a := Assign([]string{"only"}, types.LabelReal, 0.65, 1)
	assert.Empty(t, a.Train)
	assert.Equal(t, []string{"only"}, a.Test)

	a = Assign(nil, types.LabelReal, 0.65, 1)
	assert.Empty(t, a.Train)
	assert.Empty(t, a.Test)
}

func TestSplit_RebuildsAndCountsMissing(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "frames")
	out := filepath.Join(root, "frames_split")
	buildFrames(t, base, []string{"hq"}, 4)

	stale := filepath.Join(out, "train", "hq", types.LabelReal, "ghost")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	// q60 was never produced: every copy from it is a missing source
	res, err := newTestSplitter().Split(context.Background(), base, out, []string{"hq", "q60"}, 0.5, 3)
	require.NoError(t, err)

	assert.NoDirExists(t, stale, "previous output must be destroyed")
	assert.Equal(t, 8, res.Summary.Processed)
	assert.Equal(t, 8, res.Summary.Skipped[types.SkipMissingSource])

	m, err := ReadManifest(out)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Seed)
	assert.Equal(t, 0.5, m.TrainFraction)
	assert.Len(t, m.Labels[types.LabelFake].Train, 2)
}

func TestSplit_MissingLabel(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "frames")
	dir := filepath.Join(base, "hq", types.LabelReal, "v1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	res, err := newTestSplitter().Split(context.Background(), base, filepath.Join(root, "out"), []string{"hq"}, 0.65, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Skipped[types.SkipStructure])
	assert.Contains(t, res.Assignments, types.LabelReal)
}

func TestSplit_RejectsUnsafeOutput(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "frames")
	buildFrames(t, base, []string{"hq"}, 1)
	s := newTestSplitter()

	_, err := s.Split(context.Background(), base, root, []string{"hq"}, 0.65, 1)
	assert.Error(t, err)
	_, err = s.Split(context.Background(), base, base, []string{"hq"}, 0.65, 1)
	assert.Error(t, err)
	assert.DirExists(t, base)

	_, err = s.Split(context.Background(), base, filepath.Join(root, "x"), []string{"hq"}, 1.0, 1)
	assert.Error(t, err)
}
