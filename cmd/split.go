package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/split"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ErrSeedRequired is returned when neither a seed nor --random-seed is given.
var ErrSeedRequired = errors.New("a split seed is required (use --seed N or --random-seed)")

var splitOpts struct {
	Seed          int64
	RandomSeed    bool
	TrainFraction float64
	Scenarios     []string
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Partition videos into train and test sets, identically across all scenarios",
	Long:  "Rebuilds <split-root>/{train,test}/<scenario>/<label>/<video> from <frame-root>. A video lands in the same side of the split in every scenario, so no identity leaks between train and test.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applySplitFlags(cmd, Cfg)
		seed, err := resolveSeed(cmd, Cfg)
		if err != nil {
			utils.ShowError("Missing split seed", err, nil)
			return err
		}
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid split options", err, nil)
			return err
		}
		return runSplit(cmd.Context(), Cfg, seed)
	},
}

func init() {
	addSplitFlags(splitCmd)
	rootCmd.AddCommand(splitCmd)
}

func addSplitFlags(c *cobra.Command) {
	c.Flags().Int64VarP(&splitOpts.Seed, "seed", "s", 0, "Shuffle seed; the same seed and inputs always give the same split")
	c.Flags().BoolVar(&splitOpts.RandomSeed, "random-seed", false, "Draw a fresh seed (it is logged and written to the manifest)")
	c.Flags().Float64Var(&splitOpts.TrainFraction, "train-fraction", 0.65, "Share of each label's videos assigned to train")
	c.Flags().StringSliceVar(&splitOpts.Scenarios, "scenarios", []string{"hq", "q60", "q30", "q10"}, "Scenario directories to copy")
}

func applySplitFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("train-fraction") {
		cfg.Split.TrainFraction = splitOpts.TrainFraction
	}
	if cmd.Flags().Changed("scenarios") {
		cfg.Split.Scenarios = splitOpts.Scenarios
	}
}

// resolveSeed picks the seed from --seed, then the configuration, then
// --random-seed. Without any of them the split is refused.
func resolveSeed(cmd *cobra.Command, cfg *config.Config) (int64, error) {
	if cmd.Flags().Changed("seed") {
		if splitOpts.RandomSeed {
			return 0, fmt.Errorf("--seed and --random-seed are mutually exclusive")
		}
		return splitOpts.Seed, nil
	}
	if cfg.Split.Seed != nil {
		return *cfg.Split.Seed, nil
	}
	if splitOpts.RandomSeed {
		seed := rand.Int64()
		fmt.Fprintf(os.Stderr, "🎲 Using random seed %d\n", seed)
		return seed, nil
	}
	return 0, ErrSeedRequired
}

func runSplit(ctx context.Context, cfg *config.Config, seed int64) error {
	s := split.New(cfg.Split.Labels, Log)
	res, err := s.Split(ctx, cfg.Paths.FrameRoot, cfg.Paths.SplitRoot, cfg.Split.Scenarios, cfg.Split.TrainFraction, seed)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\n🛑 Split interrupted. The split tree is incomplete; rerun to rebuild it.")
			return ctx.Err()
		}
		utils.ShowError("Split failed", err, nil)
		return err
	}

	res.Summary.Print(os.Stderr)
	Log.Info("split complete",
		zap.Int64("seed", seed),
		zap.Float64("train_fraction", cfg.Split.TrainFraction),
		zap.Int("files_copied", res.FilesCopied))
	return nil
}
