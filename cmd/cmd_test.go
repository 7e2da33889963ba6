package cmd

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/extract"
	"github.com/andresmejia3/dfprep/internal/ledger"
	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateExtractFlags(t *testing.T) {
	videoRoot := t.TempDir()
	script := filepath.Join(t.TempDir(), "detector.py")
	require.NoError(t, os.WriteFile(script, []byte("pass\n"), 0o644))
	notDir := filepath.Join(t.TempDir(), "file.mp4")
	require.NoError(t, os.WriteFile(notDir, nil, 0o644))

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{
			name:    "Valid options",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "Video root does not exist",
			mutate:  func(c *config.Config) { c.Paths.VideoRoot = "nonexistent" },
			wantErr: true,
		},
		{
			name:    "Video root is a file",
			mutate:  func(c *config.Config) { c.Paths.VideoRoot = notDir },
			wantErr: true,
		},
		{
			name:    "Detector script missing",
			mutate:  func(c *config.Config) { c.Detector.Script = "missing.py" },
			wantErr: true,
		},
		{
			name:    "Invalid stride",
			mutate:  func(c *config.Config) { c.Extract.Stride = 0 },
			wantErr: true,
		},
		{
			name:    "Invalid policy",
			mutate:  func(c *config.Config) { c.Extract.Policy = "smallest" },
			wantErr: true,
		},
		{
			name:    "Invalid min confidence",
			mutate:  func(c *config.Config) { c.Detector.MinConfidence = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.VideoRoot = videoRoot
			cfg.Detector.Script = script
			tt.mutate(cfg)

			if err := validateExtractFlags(cfg); (err != nil) != tt.wantErr {
				t.Errorf("validateExtractFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// newSplitCommand binds fresh split flags, resetting splitOpts to defaults.
func newSplitCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "split"}
	addSplitFlags(c)
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestResolveSeed(t *testing.T) {
	configured := int64(7)

	tests := []struct {
		name       string
		args       []string
		cfgSeed    *int64
		wantSeed   int64
		wantErr    error
		anyErr     bool
		randomSeed bool
	}{
		{name: "Flag seed", args: []string{"--seed", "42"}, wantSeed: 42},
		{name: "Zero is a valid seed", args: []string{"--seed", "0"}, wantSeed: 0},
		{name: "Configured seed", cfgSeed: &configured, wantSeed: 7},
		{name: "Flag beats configuration", args: []string{"--seed", "3"}, cfgSeed: &configured, wantSeed: 3},
		{name: "No seed at all", wantErr: ErrSeedRequired},
		{name: "Both seed and random", args: []string{"--seed", "1", "--random-seed"}, anyErr: true},
		{name: "Random seed", args: []string{"--random-seed"}, randomSeed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newSplitCommand(t, tt.args...)
			cfg := config.Default()
			cfg.Split.Seed = tt.cfgSeed

			seed, err := resolveSeed(c, cfg)
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.anyErr:
				assert.Error(t, err)
			case tt.randomSeed:
				assert.NoError(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantSeed, seed)
			}
		})
	}
}

func TestApplyFlagsOnlyWhenChanged(t *testing.T) {
	c := &cobra.Command{Use: "extract"}
	addExtractFlags(c)
	require.NoError(t, c.ParseFlags([]string{"--stride", "5"}))

	cfg := config.Default()
	cfg.Extract.Padding = 33 // from a config file
	applyExtractFlags(c, cfg)

	assert.Equal(t, 5, cfg.Extract.Stride)
	assert.Equal(t, 33, cfg.Extract.Padding, "unset flag must not override configuration")
}

func TestExpectedSamples(t *testing.T) {
	tests := []struct {
		total, stride, want int
	}{
		{450, 15, 30},
		{451, 15, 31},
		{1, 15, 1},
		{0, 15, 0},
		{10, 1, 10},
	}
	for _, tt := range tests {
		if got := expectedSamples(tt.total, tt.stride); got != tt.want {
			t.Errorf("expectedSamples(%d, %d) = %d, want %d", tt.total, tt.stride, got, tt.want)
		}
	}
}

func TestSelectModels(t *testing.T) {
	cfg := config.Default()

	all, err := selectModels(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	some, err := selectModels(cfg, []string{"Xception", "MesoNet"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "Xception", some[0].Name)
	assert.Equal(t, 299, some[0].InputSize)

	_, err = selectModels(cfg, []string{"ResNet"})
	assert.Error(t, err)

	cfg.Score.Models = nil
	_, err = selectModels(cfg, nil)
	assert.Error(t, err)
}

func TestPrintEntries(t *testing.T) {
	var buf bytes.Buffer
	printEntries(&buf, nil)
	assert.Contains(t, buf.String(), "No completed units")

	buf.Reset()
	printEntries(&buf, []ledger.Entry{{
		Stage:       ledger.StageExtract,
		Unit:        "videos_real/clip01",
		Count:       30,
		RunID:       "0123456789abcdef",
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "videos_real/clip01")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
}

func TestPrintProbe(t *testing.T) {
	cfg := config.Default()

	var buf bytes.Buffer
	printProbe(&buf, cfg, extract.ProbeResult{Reason: types.SkipNoFace})
	assert.Contains(t, buf.String(), "No faces detected")

	buf.Reset()
	printProbe(&buf, cfg, extract.ProbeResult{
		Detections: []types.Detection{{X: 1, Y: 2, W: 3, H: 4, Confidence: 0.5}, {X: 10, Y: 10, W: 30, H: 30, Confidence: 0.9}},
		Chosen:     types.Detection{X: 10, Y: 10, W: 30, H: 30, Confidence: 0.9},
		Box:        image.Rect(0, 0, 60, 60),
	})
	out := buf.String()
	assert.Contains(t, out, "Multiple faces detected (2)")
	assert.Contains(t, out, "0.900")
	assert.Contains(t, out, "256x256")
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"extract", "degrade", "split", "score", "stress", "pipeline", "probe", "publish", "ledger", "reset"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	for _, name := range []string{"extract", "pipeline", "reset"} {
		c, _, _ := rootCmd.Find([]string{name})
		assert.Equal(t, "true", c.Annotations[needsLedger], "%s must open the ledger", name)
	}
	c, _, _ := rootCmd.Find([]string{"degrade"})
	assert.Empty(t, c.Annotations[needsLedger])
}

func TestApplyRootFlags_LedgerFollowsFrameRoot(t *testing.T) {
	c := &cobra.Command{Use: "x"}
	c.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, c.ParseFlags([]string{"--frame-root", "/tmp/faces"}))

	cfg := config.Default()
	applyRootFlags(c, cfg)
	assert.Equal(t, "/tmp/faces", cfg.Paths.FrameRoot)
	assert.Equal(t, filepath.Join("/tmp/faces", ledgerFile), cfg.Ledger.Path)
}

func TestClearFrames(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Paths.FrameRoot = t.TempDir()
	cfg.Degrade.Qualities = []int{90}

	hq := filepath.Join(cfg.Paths.FrameRoot, types.ScenarioHQ, types.LabelReal, "clip")
	q90 := filepath.Join(cfg.Paths.FrameRoot, "q90", types.LabelReal, "clip")
	ledgerPath := filepath.Join(cfg.Paths.FrameRoot, ledgerFile)

	tests := []struct {
		name        string
		withLedger  bool
		wantEntries int
	}{
		{name: "Extract entries go with the frames", withLedger: true, wantEntries: 0},
		{name: "No ledger to clear", withLedger: false, wantEntries: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, dir := range []string{hq, q90} {
				require.NoError(t, os.MkdirAll(dir, 0o755))
			}
			l, err := ledger.NewSQLite(ledgerPath)
			require.NoError(t, err)
			defer l.Close()
			require.NoError(t, l.Reset(ctx, ledger.StageExtract))
			require.NoError(t, l.Mark(ctx, ledger.Entry{Stage: ledger.StageExtract, Unit: "videos_real/clip", Count: 3, RunID: "r"}))

			var target ledger.Ledger
			if tt.withLedger {
				target = l
			}
			require.NoError(t, clearFrames(ctx, cfg, target))

			assert.NoDirExists(t, filepath.Join(cfg.Paths.FrameRoot, types.ScenarioHQ))
			assert.NoDirExists(t, filepath.Join(cfg.Paths.FrameRoot, "q90"))
			assert.FileExists(t, ledgerPath)

			entries, err := l.List(ctx, ledger.StageExtract)
			require.NoError(t, err)
			assert.Len(t, entries, tt.wantEntries)
		})
	}
}

func TestStressRootHelp(t *testing.T) {
	f := stressCmd.Flags().Lookup("root")
	require.NotNil(t, f)
	assert.Empty(t, f.DefValue, "the default is resolved from the split root at run time")
	assert.Contains(t, f.Usage, "<split-root>/test")
	assert.Contains(t, f.Usage, "frame root")
}
