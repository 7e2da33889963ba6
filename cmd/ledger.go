package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/dfprep/internal/ledger"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/spf13/cobra"
)

var errNoLedger = errors.New("the ledger is disabled (--ledger none)")

var ledgerStage string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or edit the record of completed videos",
}

var ledgerListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List completed units",
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if Ledger == nil {
			utils.ShowError("No ledger to list", errNoLedger, nil)
			return errNoLedger
		}
		entries, err := Ledger.List(cmd.Context(), ledgerStage)
		if err != nil {
			utils.ShowError("Failed to list ledger entries", err, nil)
			return err
		}
		printEntries(os.Stdout, entries)
		return nil
	},
}

var ledgerForgetCmd = &cobra.Command{
	Use:         "forget <label/video> [<label/video>...]",
	Short:       "Forget completed units so the next extract reprocesses them",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if Ledger == nil {
			utils.ShowError("No ledger to edit", errNoLedger, nil)
			return errNoLedger
		}
		for _, unit := range args {
			if err := Ledger.Forget(cmd.Context(), ledgerStage, unit); err != nil {
				utils.ShowError(fmt.Sprintf("Failed to forget %s", unit), err, nil)
				return err
			}
			fmt.Printf("✅ %s will be reprocessed on the next run\n", unit)
		}
		return nil
	},
}

var ledgerResetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Forget every completed unit of a stage",
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if Ledger == nil {
			utils.ShowError("No ledger to reset", errNoLedger, nil)
			return errNoLedger
		}
		if err := Ledger.Reset(cmd.Context(), ledgerStage); err != nil {
			utils.ShowError("Failed to reset ledger", err, nil)
			return err
		}
		fmt.Printf("✨ Ledger stage '%s' cleared.\n", ledgerStage)
		return nil
	},
}

func init() {
	ledgerCmd.PersistentFlags().StringVar(&ledgerStage, "stage", ledger.StageExtract, "Ledger stage")
	ledgerCmd.AddCommand(ledgerListCmd, ledgerForgetCmd, ledgerResetCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func printEntries(w io.Writer, entries []ledger.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No completed units recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tFACES\tRUN\tCOMPLETED")
	fmt.Fprintln(tw, "----\t-----\t---\t---------")
	for _, e := range entries {
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Unit, e.Count, run, e.CompletedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}
