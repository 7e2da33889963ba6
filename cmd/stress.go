package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/score"
	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var stressOpts struct {
	Models    []string
	Scenarios []string
	Root      string
	Output    string
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Score every registered model on every quality scenario",
	Long:  "Runs each model over <root>/<scenario> (default: the test side of the split) and writes model,scenario,label,score. Models that fail their startup check are reported and left out.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyClassifierFlags(cmd, Cfg)
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid stress options", err, nil)
			return err
		}
		regs, err := selectModels(Cfg, stressOpts.Models)
		if err != nil {
			utils.ShowError("Unknown model", err, nil)
			return err
		}
		scenarios := Cfg.Split.Scenarios
		if cmd.Flags().Changed("scenarios") {
			scenarios = stressOpts.Scenarios
		}
		root := stressOpts.Root
		if root == "" {
			root = filepath.Join(Cfg.Paths.SplitRoot, string(types.SplitTest))
		}
		return runStress(cmd.Context(), Cfg, regs, scenarios, root, stressOpts.Output)
	},
}

func init() {
	stressCmd.Flags().StringSliceVar(&stressOpts.Models, "models", nil, "Models to evaluate (default: every registered model)")
	stressCmd.Flags().StringSliceVar(&stressOpts.Scenarios, "scenarios", []string{"hq", "q60", "q30", "q10"}, "Scenario directories to score")
	stressCmd.Flags().StringVarP(&stressOpts.Root, "root", "r", "", "Directory holding the scenario trees (default: <split-root>/test, the held-out split; pass the frame root to score every extracted face)")
	stressCmd.Flags().StringVarP(&stressOpts.Output, "output", "o", "stress_results.csv", "Result table path")
	addClassifierFlags(stressCmd)
	rootCmd.AddCommand(stressCmd)
}

// selectModels resolves names against the registry; no names means all models.
func selectModels(cfg *config.Config, names []string) ([]config.Model, error) {
	if len(names) == 0 {
		if len(cfg.Score.Models) == 0 {
			return nil, errors.New("no models are registered")
		}
		return cfg.Score.Models, nil
	}
	regs := make([]config.Model, 0, len(names))
	for _, name := range names {
		m, ok := cfg.Model(name)
		if !ok {
			return nil, fmt.Errorf("model %q is not registered", name)
		}
		regs = append(regs, m)
	}
	return regs, nil
}

func runStress(ctx context.Context, cfg *config.Config, regs []config.Model, scenarios []string, root, output string) error {
	var models []score.Model
	for _, reg := range regs {
		m, err := registerModel(ctx, cfg, reg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "⚠️  Skipping %s: %v\n", reg.Name, err)
			Log.Warn("model failed startup check", zap.String("model", reg.Name), zap.Error(err))
			continue
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		err := errors.New("every model failed its startup check")
		utils.ShowError("No model available for stress evaluation", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🧪 Stress evaluation: %d models × %d scenarios from %s\n", len(models), len(scenarios), root)

	p := score.NewPipeline(Log)
	records, sums, err := p.Stress(ctx, models, score.ScenarioRoots(root, scenarios), nil)
	printSummaries(sums)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\n🛑 Stress evaluation interrupted. No result table was written.")
			return ctx.Err()
		}
		utils.ShowError("Stress evaluation failed", err, nil)
		return err
	}

	if err := score.WriteStressResults(output, records); err != nil {
		utils.ShowError("Failed to write results", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "\n💾 %d scores saved to %s\n", len(records), output)
	Log.Info("stress evaluation complete", zap.Int("models", len(models)), zap.Int("records", len(records)), zap.String("output", output))
	return nil
}
