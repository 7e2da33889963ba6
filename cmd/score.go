package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/dfprep/internal/classifier"
	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/report"
	"github.com/andresmejia3/dfprep/internal/score"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const readyPollInterval = 2 * time.Second

var scoreOpts struct {
	Model        string
	Scenarios    []string
	Root         string
	Output       string
	Endpoint     string
	ReadyTimeout string
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score every face crop of each scenario with one registered classifier",
	Long:  "Writes video,frame,label,label_str,scenario,score for every image under <root>/<scenario>. Weights and the classifier sidecar are checked before any image is read.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyScoreFlags(cmd, Cfg)
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid score options", err, nil)
			return err
		}
		root := scoreOpts.Root
		if root == "" {
			root = Cfg.Paths.FrameRoot
		}
		return runScore(cmd.Context(), Cfg, scoreOpts.Model, root, scoreOpts.Output)
	},
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreOpts.Model, "model", "m", "MesoNet", "Registered model name")
	scoreCmd.Flags().StringSliceVar(&scoreOpts.Scenarios, "scenarios", []string{"hq", "q60", "q30", "q10"}, "Scenario directories to score")
	scoreCmd.Flags().StringVarP(&scoreOpts.Root, "root", "r", "", "Directory holding the scenario trees (default: --frame-root)")
	scoreCmd.Flags().StringVarP(&scoreOpts.Output, "output", "o", "results.csv", "Result table path")
	addClassifierFlags(scoreCmd)
	rootCmd.AddCommand(scoreCmd)
}

func addClassifierFlags(c *cobra.Command) {
	c.Flags().StringVar(&scoreOpts.Endpoint, "endpoint", "http://localhost:8001", "Classifier sidecar base URL (models may override it)")
	c.Flags().StringVar(&scoreOpts.ReadyTimeout, "ready-timeout", "60s", "How long to wait for the classifier sidecar")
}

func applyScoreFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("scenarios") {
		cfg.Split.Scenarios = scoreOpts.Scenarios
	}
	applyClassifierFlags(cmd, cfg)
}

func applyClassifierFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("endpoint") {
		cfg.Score.Endpoint = scoreOpts.Endpoint
	}
	if cmd.Flags().Changed("ready-timeout") {
		cfg.Score.ReadyTimeout = scoreOpts.ReadyTimeout
	}
}

// registerModel runs the startup checks for one registration and binds its
// sidecar client to its preprocessor. Any failure here is fatal for the model.
func registerModel(ctx context.Context, cfg *config.Config, m config.Model) (score.Model, error) {
	if err := classifier.CheckWeights(m.Weights); err != nil {
		return score.Model{}, err
	}
	p, err := score.LookupPreprocessor(m.Preprocess, m.BGR)
	if err != nil {
		return score.Model{}, err
	}
	timeout, err := time.ParseDuration(cfg.Score.ReadyTimeout)
	if err != nil {
		return score.Model{}, fmt.Errorf("invalid ready-timeout format (use '60s', '2m'): %w", err)
	}

	endpoint := m.Endpoint
	if endpoint == "" {
		endpoint = cfg.Score.Endpoint
	}
	client := classifier.NewClient(endpoint, m.Name)
	if err := client.WaitForReady(ctx, timeout, readyPollInterval); err != nil {
		return score.Model{}, fmt.Errorf("classifier at %s: %w", endpoint, err)
	}
	if err := client.Load(ctx, m.Weights, m.InputSize); err != nil {
		return score.Model{}, fmt.Errorf("loading %s: %w", m.Name, err)
	}
	Log.Info("model registered",
		zap.String("model", m.Name),
		zap.String("endpoint", endpoint),
		zap.Int("input_size", m.InputSize),
		zap.String("preprocess", m.Preprocess))
	return score.Register(m.Name, m.InputSize, client, p)
}

func runScore(ctx context.Context, cfg *config.Config, modelName, root, output string) error {
	reg, ok := cfg.Model(modelName)
	if !ok {
		err := fmt.Errorf("model %q is not registered", modelName)
		utils.ShowError("Unknown model", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "🧠 Preparing %s (%dx%d, %s)\n", reg.Name, reg.InputSize, reg.InputSize, reg.Preprocess)
	m, err := registerModel(ctx, cfg, reg)
	if err != nil {
		utils.ShowError(fmt.Sprintf("Model %s failed its startup check", reg.Name), err, nil)
		return err
	}

	p := score.NewPipeline(Log)
	records, sums, err := p.ScoreScenarios(ctx, m, score.ScenarioRoots(root, cfg.Split.Scenarios), nil)
	printSummaries(sums)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\n🛑 Scoring interrupted. No result table was written.")
			return ctx.Err()
		}
		utils.ShowError("Scoring failed", err, nil)
		return err
	}

	if err := score.WriteResults(output, records); err != nil {
		utils.ShowError("Failed to write results", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "\n💾 %d scores saved to %s\n", len(records), output)
	Log.Info("scoring complete", zap.String("model", m.Name), zap.Int("records", len(records)), zap.String("output", output))
	return nil
}

func printSummaries(sums []*report.Summary) {
	for _, s := range sums {
		s.Print(os.Stderr)
	}
}
