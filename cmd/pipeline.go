package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/dfprep/internal/report"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:         "pipeline",
	Short:       "Run extract, degrade and split in sequence",
	Long:        "Prepares the whole dataset in one go. Accepts the flags of each stage; the split seed is still required.",
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyExtractFlags(cmd, Cfg)
		applyDegradeFlags(cmd, Cfg)
		applySplitFlags(cmd, Cfg)
		if cmd.Flags().Changed("qualities") && !cmd.Flags().Changed("scenarios") {
			// Split exactly the levels this run produces
			Cfg.Split.Scenarios = Cfg.ScenarioNames()
		}

		// Resolve everything up front so a bad seed does not surface after an hour of extraction
		seed, err := resolveSeed(cmd, Cfg)
		if err != nil {
			utils.ShowError("Missing split seed", err, nil)
			return err
		}
		if err := validateExtractFlags(Cfg); err != nil {
			utils.ShowError("Invalid pipeline options", err, nil)
			return err
		}

		ctx := cmd.Context()
		start := report.New("PIPELINE", "stages")
		steps := []struct {
			name string
			run  func() error
		}{
			{"extract", func() error { return runExtract(ctx, Cfg) }},
			{"degrade", func() error { return runDegrade(ctx, Cfg) }},
			{"split", func() error { return runSplit(ctx, Cfg, seed) }},
		}
		for i, step := range steps {
			fmt.Fprintf(os.Stderr, "\n▶️  Stage %d/%d: %s\n", i+1, len(steps), step.name)
			if err := step.run(); err != nil {
				return fmt.Errorf("%s stage: %w", step.name, err)
			}
			start.Record(nil)
		}
		start.Finish()
		fmt.Fprintf(os.Stderr, "\n🏁 Pipeline complete in %s\n", report.FmtDuration(start.Elapsed))
		return nil
	},
}

func init() {
	addExtractFlags(pipelineCmd)
	addDegradeFlags(pipelineCmd)
	addSplitFlags(pipelineCmd)
	rootCmd.AddCommand(pipelineCmd)
}
