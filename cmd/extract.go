package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/extract"
	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/andresmejia3/dfprep/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// extractOptions mirrors the [extract] and [detector] config sections as flags.
type extractOptions struct {
	Stride        int
	Padding       int
	FaceSize      int
	Policy        string
	Python        string
	Script        string
	MinConfidence float64
	FFmpegPath    string
}

var extractOpts extractOptions

var extractCmd = &cobra.Command{
	Use:         "extract",
	Short:       "Sample frames from every labelled video and save one face crop per frame",
	Long:        "Reads <video-root>/<label>/*.{mp4,avi,mov}, keeps every stride-th frame, detects faces and writes <frame-root>/hq/<label>/<video>/frame_<index>.jpg.",
	Annotations: map[string]string{needsLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyExtractFlags(cmd, Cfg)
		if err := validateExtractFlags(Cfg); err != nil {
			utils.ShowError("Invalid extract options", err, nil)
			return err
		}
		return runExtract(cmd.Context(), Cfg)
	},
}

func init() {
	addExtractFlags(extractCmd)
	rootCmd.AddCommand(extractCmd)
}

func addExtractFlags(c *cobra.Command) {
	c.Flags().IntVarP(&extractOpts.Stride, "stride", "n", 15, "Keep every n-th frame (0, n, 2n, ...)")
	c.Flags().IntVarP(&extractOpts.Padding, "padding", "p", 20, "Pixels added around each detected face before clamping")
	c.Flags().IntVar(&extractOpts.FaceSize, "face-size", 256, "Edge length of the saved square crop")
	c.Flags().StringVar(&extractOpts.Policy, "policy", "largest", "Face chosen when a frame has several (first, largest, confidence)")
	c.Flags().StringVar(&extractOpts.Python, "python", "python3", "Python interpreter hosting the detector")
	c.Flags().StringVar(&extractOpts.Script, "detector-script", "python/detector.py", "Detector worker script")
	c.Flags().Float64Var(&extractOpts.MinConfidence, "min-confidence", 0, "Drop detections below this confidence (0 keeps all)")
	c.Flags().StringVar(&extractOpts.FFmpegPath, "ffmpeg", "ffmpeg", "ffmpeg binary used to decode videos")
}

func applyExtractFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("stride") {
		cfg.Extract.Stride = extractOpts.Stride
	}
	if flags.Changed("padding") {
		cfg.Extract.Padding = extractOpts.Padding
	}
	if flags.Changed("face-size") {
		cfg.Extract.FaceSize = extractOpts.FaceSize
	}
	if flags.Changed("policy") {
		cfg.Extract.Policy = extractOpts.Policy
	}
	if flags.Changed("python") {
		cfg.Detector.Python = extractOpts.Python
	}
	if flags.Changed("detector-script") {
		cfg.Detector.Script = extractOpts.Script
	}
	if flags.Changed("min-confidence") {
		cfg.Detector.MinConfidence = extractOpts.MinConfidence
	}
	if flags.Changed("ffmpeg") {
		cfg.Extract.FFmpegPath = extractOpts.FFmpegPath
	}
}

// validateExtractFlags ensures the stage can start before any process is spawned.
func validateExtractFlags(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Detector.MinConfidence < 0 || cfg.Detector.MinConfidence > 1 {
		return fmt.Errorf("min-confidence must be between 0.0 and 1.0, got %f", cfg.Detector.MinConfidence)
	}
	info, err := os.Stat(cfg.Paths.VideoRoot)
	if err != nil {
		return fmt.Errorf("video root %s: %w", cfg.Paths.VideoRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("video root %s is not a directory", cfg.Paths.VideoRoot)
	}
	if _, err := os.Stat(cfg.Detector.Script); err != nil {
		return fmt.Errorf("detector script %s: %w", cfg.Detector.Script, err)
	}
	return nil
}

func runExtract(ctx context.Context, cfg *config.Config) error {
	det, err := worker.NewPythonDetector(ctx, 0, worker.DetectorConfig{
		Python: cfg.Detector.Python,
		Script: cfg.Detector.Script,
	})
	if err != nil {
		utils.ShowError("Detector startup failed", err, nil)
		return err
	}
	defer det.Close()

	outputRoot := filepath.Join(cfg.Paths.FrameRoot, types.ScenarioHQ)
	fmt.Fprintf(os.Stderr, "🎬 Extracting faces from %s into %s (stride %d, policy %s)\n",
		cfg.Paths.VideoRoot, outputRoot, cfg.Extract.Stride, cfg.Extract.Policy)
	if Ledger == nil {
		fmt.Fprintln(os.Stderr, "⚠️  Ledger disabled: existing video directories are treated as complete")
	}

	ex := extract.New(cfg, extract.FFmpegSource{FFmpegPath: cfg.Extract.FFmpegPath}, det, Ledger, Log, RunID)
	res, err := ex.Run(ctx, cfg.Paths.VideoRoot, outputRoot)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\n🛑 Extraction interrupted. Completed videos are recorded; rerun to resume.")
			return ctx.Err()
		}
		// DRAIN: wait for the process so its final logs make it into the report
		det.Close()
		utils.ShowError("Extraction failed", err, det.Cmd)
		return err
	}

	res.Videos.Print(os.Stderr)
	res.Frames.Print(os.Stderr)
	Log.Info("extraction complete",
		zap.Int("videos", res.Videos.Processed),
		zap.Int("frames_saved", res.Frames.Processed),
		zap.Int("frames_skipped", res.Frames.SkippedTotal()))
	return nil
}
