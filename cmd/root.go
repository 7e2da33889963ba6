package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/ledger"
	"github.com/andresmejia3/dfprep/internal/logger"
	"github.com/andresmejia3/dfprep/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg *config.Config
	// Log is the structured logger
	Log *zap.Logger
	// Ledger is nil when the ledger driver is "none" or the command does not need it
	Ledger ledger.Ledger
	// RunID tags every ledger entry and log line of this invocation
	RunID string

	rootOpts rootOptions
)

// rootOptions holds the persistent flags. Only flags the user actually set
// override the configuration file and environment.
type rootOptions struct {
	ConfigFile  string
	LogLevel    string
	LogFile     string
	LedgerKind  string
	LedgerPath  string
	LedgerURL   string
	MetricsAddr string
	VideoRoot   string
	FrameRoot   string
	SplitRoot   string
}

// needsLedger marks commands that open the ledger in PersistentPreRunE.
const needsLedger = "ledger"

const ledgerFile = ".dfprep-ledger.db"

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "dfprep",
	Short:   "Deepfake face-dataset preparation toolkit",
	Long:    "Extracts face crops from labelled videos, degrades them across a JPEG quality ladder, splits them into leakage-free train/test sets and scores them with registered classifiers.",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rootOpts.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		applyRootFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		Cfg = cfg

		Log, err = logger.New(cfg.Log.Level, cfg.Log.File)
		if err != nil {
			return err
		}
		RunID = ledger.NewRunID()
		Log = Log.With(zap.String("run_id", RunID))

		if cmd.Annotations[needsLedger] == "true" {
			// Use the command's context (which will be cancellable) for the connection
			Ledger, err = ledger.Open(cmd.Context(), cfg.Ledger)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
		}

		if cfg.MetricsAddr != "" {
			go func() {
				if err := metrics.Serve(cmd.Context(), cfg.MetricsAddr, Log); err != nil {
					Log.Warn("metrics server stopped", zap.Error(err))
				}
			}()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Ledger != nil {
			Ledger.Close()
		}
		if Log != nil {
			Log.Sync()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&rootOpts.ConfigFile, "config", "c", "", "YAML configuration file (default: ./dfprep.yaml if present)")
	f.StringVar(&rootOpts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&rootOpts.LogFile, "log-file", "", "Also write JSON logs to this rotating file")
	f.StringVar(&rootOpts.LedgerKind, "ledger", "sqlite", "Completion ledger driver (sqlite, postgres, none)")
	f.StringVar(&rootOpts.LedgerPath, "ledger-path", "frames/.dfprep-ledger.db", "SQLite ledger file")
	f.StringVar(&rootOpts.LedgerURL, "ledger-url", "", "PostgreSQL connection string for the postgres ledger")
	f.StringVar(&rootOpts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9100)")
	f.StringVar(&rootOpts.VideoRoot, "video-root", "data", "Root holding <label>/<video> source files")
	f.StringVar(&rootOpts.FrameRoot, "frame-root", "frames", "Root holding the hq and q<level> scenario trees")
	f.StringVar(&rootOpts.SplitRoot, "split-root", "frames_split", "Root of the train/test split tree")
}

// applyRootFlags copies explicitly set persistent flags over cfg.
func applyRootFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = rootOpts.LogLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = rootOpts.LogFile
	}
	if flags.Changed("ledger") {
		cfg.Ledger.Driver = rootOpts.LedgerKind
	}
	if flags.Changed("ledger-path") {
		cfg.Ledger.Path = rootOpts.LedgerPath
	}
	if flags.Changed("ledger-url") {
		cfg.Ledger.URL = rootOpts.LedgerURL
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = rootOpts.MetricsAddr
	}
	if flags.Changed("video-root") {
		cfg.Paths.VideoRoot = rootOpts.VideoRoot
	}
	if flags.Changed("frame-root") {
		// The default ledger lives next to the frames it describes
		if !flags.Changed("ledger-path") && cfg.Ledger.Path == config.Default().Ledger.Path {
			cfg.Ledger.Path = filepath.Join(rootOpts.FrameRoot, ledgerFile)
		}
		cfg.Paths.FrameRoot = rootOpts.FrameRoot
	}
	if flags.Changed("split-root") {
		cfg.Paths.SplitRoot = rootOpts.SplitRoot
	}
}
