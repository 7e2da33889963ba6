package cmd

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/extract"
	"github.com/andresmejia3/dfprep/internal/utils"
	"github.com/andresmejia3/dfprep/internal/worker"
	"github.com/spf13/cobra"
)

var probeOpts struct {
	Image string
	Video string
	Save  string
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Inspect what extraction would do with one image or video",
	Long:  "--image runs the detector on a single picture and shows every detection and the crop that would be saved. --video reports the frame count and how many frames the current stride would sample.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyExtractFlags(cmd, Cfg)
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid probe options", err, nil)
			return err
		}
		if probeOpts.Image == "" && probeOpts.Video == "" {
			err := fmt.Errorf("one of --image or --video is required")
			utils.ShowError("Nothing to probe", err, nil)
			return err
		}
		if probeOpts.Video != "" {
			if err := probeVideo(os.Stdout, Cfg, probeOpts.Video); err != nil {
				return err
			}
		}
		if probeOpts.Image != "" {
			return runProbeImage(cmd.Context(), Cfg, probeOpts.Image, probeOpts.Save)
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeOpts.Image, "image", "i", "", "Image to run the detector on")
	probeCmd.Flags().StringVar(&probeOpts.Video, "video", "", "Video to count frames of")
	probeCmd.Flags().StringVar(&probeOpts.Save, "save", "", "Write the resulting face crop to this JPEG file")
	addExtractFlags(probeCmd)
	rootCmd.AddCommand(probeCmd)
}

// expectedSamples is the number of indices in {0, s, 2s, ...} below total.
func expectedSamples(total, stride int) int {
	if total <= 0 || stride < 1 {
		return 0
	}
	return (total + stride - 1) / stride
}

func probeVideo(w io.Writer, cfg *config.Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	total := utils.GetTotalFrames(path)
	if total == 0 {
		fmt.Fprintf(w, "⚠️  %s: frame count unavailable from the container\n", path)
		return nil
	}
	fmt.Fprintf(w, "📼 %s (id %s)\n", path, utils.VideoStem(path))
	fmt.Fprintf(w, "   Frames:           %d\n", total)
	fmt.Fprintf(w, "   Stride:           %d\n", cfg.Extract.Stride)
	fmt.Fprintf(w, "   Sampled frames:   %d\n", expectedSamples(total, cfg.Extract.Stride))
	return nil
}

func runProbeImage(ctx context.Context, cfg *config.Config, path, save string) error {
	f, err := os.Open(path)
	if err != nil {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		utils.ShowError("Failed to decode image", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting detector...")
	// We use ID 0 for this ad-hoc worker
	det, err := worker.NewPythonDetector(ctx, 0, worker.DetectorConfig{
		Python: cfg.Detector.Python,
		Script: cfg.Detector.Script,
	})
	if err != nil {
		utils.ShowError("Failed to start detector", err, nil)
		return err
	}
	defer det.Close()

	res, err := extract.Probe(ctx, cfg, det, img)
	if err != nil {
		utils.ShowError("Detection failed", err, det.Cmd)
		return err
	}

	printProbe(os.Stdout, cfg, res)

	if save != "" && res.Crop != nil {
		err := utils.WriteFileAtomic(save, func(w io.Writer) error {
			return jpeg.Encode(w, res.Crop, &jpeg.Options{Quality: cfg.Extract.JPEGQuality})
		})
		if err != nil {
			utils.ShowError("Failed to save crop", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "💾 Crop saved to %s\n", save)
	}
	return nil
}

func printProbe(w io.Writer, cfg *config.Config, res extract.ProbeResult) {
	if len(res.Detections) == 0 {
		fmt.Fprintln(w, "❌ No faces detected in the provided image.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "#\tX\tY\tW\tH\tCONFIDENCE")
	fmt.Fprintln(tw, "-\t-\t-\t-\t-\t----------")
	for i, d := range res.Detections {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%.3f\n", i, d.X, d.Y, d.W, d.H, d.Confidence)
	}
	tw.Flush()

	if len(res.Detections) > 1 {
		fmt.Fprintf(w, "⚠️  Multiple faces detected (%d). Using policy '%s'.\n", len(res.Detections), cfg.Extract.Policy)
	}
	if res.Reason != "" {
		fmt.Fprintf(w, "❌ Frame would be skipped (%s)\n", res.Reason)
		return
	}
	fmt.Fprintf(w, "✅ Crop %v (padding %d) -> %dx%d\n", res.Box, cfg.Extract.Padding, cfg.Extract.FaceSize, cfg.Extract.FaceSize)
}
