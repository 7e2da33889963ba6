package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/degrade"
	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var degradeOpts struct {
	Qualities    []int
	MeasureDrift bool
}

var degradeCmd = &cobra.Command{
	Use:   "degrade",
	Short: "Re-encode every HQ face crop at each JPEG quality level",
	Long:  "Writes <frame-root>/q<level>/<label>/<video>/<frame> for every image under <frame-root>/hq. Existing variants are overwritten.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyDegradeFlags(cmd, Cfg)
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid degrade options", err, nil)
			return err
		}
		return runDegrade(cmd.Context(), Cfg)
	},
}

func init() {
	addDegradeFlags(degradeCmd)
	rootCmd.AddCommand(degradeCmd)
}

func addDegradeFlags(c *cobra.Command) {
	c.Flags().IntSliceVarP(&degradeOpts.Qualities, "qualities", "q", []int{60, 30, 10}, "JPEG quality ladder (each 1-100)")
	c.Flags().BoolVar(&degradeOpts.MeasureDrift, "measure-drift", false, "Report the mean perceptual-hash distance between HQ and each level")
}

func applyDegradeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("qualities") {
		cfg.Degrade.Qualities = degradeOpts.Qualities
	}
	if cmd.Flags().Changed("measure-drift") {
		cfg.Degrade.MeasureDrift = degradeOpts.MeasureDrift
	}
}

func runDegrade(ctx context.Context, cfg *config.Config) error {
	hqRoot := filepath.Join(cfg.Paths.FrameRoot, types.ScenarioHQ)
	if _, err := os.Stat(hqRoot); err != nil {
		utils.ShowError(fmt.Sprintf("HQ frames not found in %s (run extract first)", hqRoot), err, nil)
		return err
	}

	d := degrade.New(cfg.Degrade.MeasureDrift, Log)
	res, err := d.Degrade(ctx, hqRoot, cfg.Paths.FrameRoot, cfg.Degrade.Qualities)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\n🛑 Degradation interrupted. Rerun to regenerate all variants.")
			return ctx.Err()
		}
		utils.ShowError("Degradation failed", err, nil)
		return err
	}

	res.Summary.Print(os.Stderr)
	Log.Info("degradation complete",
		zap.Int("variants", res.Summary.Processed),
		zap.Int("skipped", res.Summary.SkippedTotal()),
		zap.Ints("qualities", cfg.Degrade.Qualities))
	return nil
}
