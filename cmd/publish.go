package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/objstore"
	"github.com/andresmejia3/dfprep/internal/split"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var publishOpts struct {
	Prefix   string
	Results  []string
	Endpoint string
	Bucket   string
	UseSSL   bool
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the split tree and result tables to S3-compatible storage",
	Long:  "Mirrors <split-root> under <prefix>/split/ and each result table under <prefix>/results/. Credentials come from the [storage] config section or DFPREP_STORAGE_* variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyPublishFlags(cmd, Cfg)
		prefix := publishOpts.Prefix
		if prefix == "" {
			prefix = RunID
		}
		return runPublish(cmd.Context(), Cfg, prefix, publishOpts.Results)
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishOpts.Prefix, "prefix", "", "Object key prefix (default: this run's id)")
	publishCmd.Flags().StringSliceVar(&publishOpts.Results, "results", []string{"results.csv", "stress_results.csv"}, "Result tables to upload when present")
	publishCmd.Flags().StringVar(&publishOpts.Endpoint, "endpoint", "localhost:9000", "Object storage endpoint (host:port)")
	publishCmd.Flags().StringVar(&publishOpts.Bucket, "bucket", "dfprep", "Destination bucket (created if missing)")
	publishCmd.Flags().BoolVar(&publishOpts.UseSSL, "ssl", false, "Use TLS for the storage endpoint")
	rootCmd.AddCommand(publishCmd)
}

func applyPublishFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("endpoint") {
		cfg.Storage.Endpoint = publishOpts.Endpoint
	}
	if cmd.Flags().Changed("bucket") {
		cfg.Storage.Bucket = publishOpts.Bucket
	}
	if cmd.Flags().Changed("ssl") {
		cfg.Storage.UseSSL = publishOpts.UseSSL
	}
}

func runPublish(ctx context.Context, cfg *config.Config, prefix string, results []string) error {
	// Only a finished split carries a manifest
	if _, err := split.ReadManifest(cfg.Paths.SplitRoot); err != nil {
		utils.ShowError(fmt.Sprintf("No completed split found in %s (run split first)", cfg.Paths.SplitRoot), err, nil)
		return err
	}

	up, err := objstore.NewUploader(cfg.Storage)
	if err != nil {
		utils.ShowError("Failed to configure object storage", err, nil)
		return err
	}
	if err := up.EnsureBucket(ctx); err != nil {
		utils.ShowError("Object storage is not reachable", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "☁️  Publishing %s to s3://%s/%s\n", cfg.Paths.SplitRoot, cfg.Storage.Bucket, prefix)
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("📤 Uploading"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	objects, size, err := up.UploadTree(ctx, cfg.Paths.SplitRoot, path.Join(prefix, "split"), func() { bar.Add(1) })
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "🛑 Upload interrupted. Rerun to upload again; objects are overwritten.")
			return ctx.Err()
		}
		utils.ShowError("Upload failed", err, nil)
		return err
	}

	for _, r := range results {
		if _, err := os.Stat(r); errors.Is(err, os.ErrNotExist) {
			continue
		}
		n, err := up.UploadFile(ctx, path.Join(prefix, "results", filepath.Base(r)), r)
		if err != nil {
			utils.ShowError("Upload failed", err, nil)
			return err
		}
		objects++
		size += n
	}

	fmt.Fprintf(os.Stderr, "✅ %d objects (%s) published\n", objects, humanize.Bytes(uint64(size)))
	Log.Info("publish complete",
		zap.String("bucket", cfg.Storage.Bucket),
		zap.String("prefix", prefix),
		zap.Int("objects", objects),
		zap.Int64("bytes", size))
	return nil
}
