package extract

import (
	"context"
	"image"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/andresmejia3/dfprep/internal/types"
)

// ProbeResult shows what ProcessVideo would do with a single frame.
type ProbeResult struct {
	Detections []types.Detection // after the confidence filter
	Chosen     types.Detection
	Box        image.Rectangle
	Crop       image.Image // nil when no crop would be written
	Reason     types.SkipReason
}

// Probe runs one image through detection, selection, clamping and cropping
// with the extractor's settings. Skips are reported in Reason, not as errors.
func Probe(ctx context.Context, cfg *config.Config, det Detector, img image.Image) (ProbeResult, error) {
	var res ProbeResult
	rgb, err := toRGBA(img)
	if err != nil {
		res.Reason = types.SkipConvert
		return res, nil
	}

	dets, err := det.Detect(ctx, rgb)
	if err != nil {
		return res, err
	}
	res.Detections = filterConfidence(dets, cfg.Detector.MinConfidence)

	face, ok := SelectFace(cfg.Extract.Policy, res.Detections)
	if !ok {
		res.Reason = types.SkipNoFace
		return res, nil
	}
	res.Chosen = face

	box, ok := ClampBox(face, cfg.Extract.Padding, img.Bounds())
	if !ok {
		res.Reason = types.SkipEmptyCrop
		return res, nil
	}
	res.Box = box

	crop, err := cropResize(img, box, cfg.Extract.FaceSize)
	if err != nil {
		res.Reason = types.SkipEmptyCrop
		return res, nil
	}
	res.Crop = crop
	return res, nil
}
