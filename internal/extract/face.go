package extract

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/nfnt/resize"
)

// Face selection policies for frames with more than one detection.
const (
	PolicyFirst      = "first"
	PolicyLargest    = "largest"
	PolicyConfidence = "confidence"
)

// SelectFace picks one detection according to policy. Ties keep the earliest
// detection so results are stable for a given detector output.
func SelectFace(policy string, dets []types.Detection) (types.Detection, bool) {
	if len(dets) == 0 {
		return types.Detection{}, false
	}
	best := 0
	for i := 1; i < len(dets); i++ {
		switch policy {
		case PolicyLargest:
			if dets[i].Area() > dets[best].Area() {
				best = i
			}
		case PolicyConfidence:
			if dets[i].Confidence > dets[best].Confidence {
				best = i
			}
		}
	}
	return dets[best], true
}

// ClampBox pads the detection on every side and clamps it to bounds.
// ok is false when nothing of the box remains inside the frame.
func ClampBox(d types.Detection, pad int, bounds image.Rectangle) (image.Rectangle, bool) {
	r := d.Rect().Inset(-pad).Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}

// toRGBA converts a decoded frame into the detector's input layout.
func toRGBA(img image.Image) (*image.RGBA, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty frame")
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropResize cuts r out of img and scales it to size×size.
func cropResize(img image.Image, r image.Rectangle, size int) (image.Image, error) {
	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("frame type %T does not support cropping", img)
	}
	crop := si.SubImage(r)
	if crop.Bounds().Empty() {
		return nil, fmt.Errorf("empty crop %v", r)
	}
	return resize.Resize(uint(size), uint(size), crop, resize.Bilinear), nil
}
