package score

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// Tensor is a single HWC image batch of size 1, ready for a classifier.
type Tensor struct {
	Height   int       `json:"height"`
	Width    int       `json:"width"`
	Channels int       `json:"channels"`
	Data     []float32 `json:"data"`
}

// Preprocessor maps 0–255 channel values into a model's expected input range:
// out[c] = v*Scale[c] + Offset[c]. BGR swaps channel order before scaling.
type Preprocessor struct {
	Name   string
	BGR    bool
	Scale  [3]float32
	Offset [3]float32
}

var imagenetMean = [3]float32{0.485, 0.456, 0.406}
var imagenetStd = [3]float32{0.229, 0.224, 0.225}

// LookupPreprocessor returns a named preprocessor: unit (x/255), symmetric
// (x/127.5-1), identity (raw 0–255) or imagenet (mean/std centering).
func LookupPreprocessor(name string, bgr bool) (Preprocessor, error) {
	p := Preprocessor{Name: name, BGR: bgr}
	switch name {
	case "unit":
		p.Scale = [3]float32{1 / 255.0, 1 / 255.0, 1 / 255.0}
	case "symmetric":
		p.Scale = [3]float32{1 / 127.5, 1 / 127.5, 1 / 127.5}
		p.Offset = [3]float32{-1, -1, -1}
	case "identity":
		p.Scale = [3]float32{1, 1, 1}
	case "imagenet":
		for c := 0; c < 3; c++ {
			p.Scale[c] = 1 / (255 * imagenetStd[c])
			p.Offset[c] = -imagenetMean[c] / imagenetStd[c]
		}
		if bgr {
			// Statistics are per RGB channel; follow the swapped order
			p.Scale[0], p.Scale[2] = p.Scale[2], p.Scale[0]
			p.Offset[0], p.Offset[2] = p.Offset[2], p.Offset[0]
		}
	default:
		return p, fmt.Errorf("unknown preprocessor %q", name)
	}
	return p, nil
}

// Prepare resizes img to size×size and applies p.
func (p Preprocessor) Prepare(img image.Image, size int) Tensor {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	b := resized.Bounds()

	t := Tensor{Height: size, Width: size, Channels: 3, Data: make([]float32, 0, size*size*3)}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			px := [3]float32{float32(r >> 8), float32(g >> 8), float32(bl >> 8)}
			if p.BGR {
				px[0], px[2] = px[2], px[0]
			}
			for c := 0; c < 3; c++ {
				t.Data = append(t.Data, px[c]*p.Scale[c]+p.Offset[c])
			}
		}
	}
	return t
}
