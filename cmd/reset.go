package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/ledger"
	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB      bool
	resetFrames  bool
	resetSplits  bool
	resetResults bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset pipeline state (Ledger, Frames, Splits, Results)",
	Long:        "Clears generated data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFrames && !resetSplits && !resetResults {
			resetDB = true
			resetFrames = true
			resetSplits = true
			resetResults = true
		}

		reader := bufio.NewReader(os.Stdin)
		ask := func(prompt string) bool {
			return resetYes || confirm(reader, prompt)
		}

		ledgerCleared := false
		if resetDB && Ledger != nil {
			if ask("⚠️  Are you sure you want to forget every completed video in the ledger?") {
				fmt.Println("🗑️  Clearing Ledger...")
				if err := Ledger.Reset(cmd.Context(), ledger.StageExtract); err != nil {
					utils.ShowError("Failed to reset ledger", err, nil)
					return err
				}
				ledgerCleared = true
			}
		}

		if resetFrames {
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete all extracted and degraded faces in %s?", Cfg.Paths.FrameRoot)) {
				fmt.Println("🗑️  Clearing Frames (hq and every quality level)...")
				l := Ledger
				if ledgerCleared {
					l = nil
				}
				if err := clearFrames(cmd.Context(), Cfg, l); err != nil {
					utils.ShowError("Failed to reset ledger", err, nil)
					return err
				}
			}
		}

		if resetSplits {
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete the split tree %s?", Cfg.Paths.SplitRoot)) {
				fmt.Println("🗑️  Clearing Splits...")
				removeDir(Cfg.Paths.SplitRoot)
			}
		}

		if resetResults {
			if ask("⚠️  Are you sure you want to delete results.csv and stress_results.csv?") {
				fmt.Println("🗑️  Clearing Result Tables...")
				removeFile("results.csv")
				removeFile("stress_results.csv")
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the completion ledger")
	resetCmd.Flags().BoolVar(&resetFrames, "frames", false, "Clear extracted and degraded faces")
	resetCmd.Flags().BoolVar(&resetSplits, "splits", false, "Clear the train/test split tree")
	resetCmd.Flags().BoolVar(&resetResults, "results", false, "Clear score result tables")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// clearFrames deletes the hq and q<level> trees and, when l is not nil, the
// extract entries describing them.
func clearFrames(ctx context.Context, cfg *config.Config, l ledger.Ledger) error {
	removeDir(filepath.Join(cfg.Paths.FrameRoot, types.ScenarioHQ))
	for _, q := range cfg.Degrade.Qualities {
		removeDir(filepath.Join(cfg.Paths.FrameRoot, fmt.Sprintf("q%d", q)))
	}
	if l == nil {
		return nil
	}
	return l.Reset(ctx, ledger.StageExtract)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
