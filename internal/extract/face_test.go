package extract

import (
	"image"
	"math/rand/v2"
	"testing"

	"github.com/andresmejia3/dfprep/internal/types"
)

func TestSelectFace(t *testing.T) {
	dets := []types.Detection{
		{X: 0, Y: 0, W: 10, H: 10, Confidence: 0.7},
		{X: 0, Y: 0, W: 30, H: 30, Confidence: 0.8},
		{X: 0, Y: 0, W: 20, H: 20, Confidence: 0.95},
		{X: 5, Y: 5, W: 30, H: 30, Confidence: 0.1}, // ties with the largest
	}

	tests := []struct {
		policy string
		want   int
	}{
		{PolicyFirst, 0},
		{PolicyLargest, 1},
		{PolicyConfidence, 2},
	}

	for _, tt := range tests {
		got, ok := SelectFace(tt.policy, dets)
		if !ok {
			t.Fatalf("%s: expected a face", tt.policy)
		}
		if got != dets[tt.want] {
			t.Errorf("%s: got %+v, want %+v", tt.policy, got, dets[tt.want])
		}
	}

	if _, ok := SelectFace(PolicyLargest, nil); ok {
		t.Error("Expected no face for empty detections")
	}
}

func TestClampBox(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)

	tests := []struct {
		name   string
		det    types.Detection
		pad    int
		want   image.Rectangle
		wantOK bool
	}{
		{"Interior", types.Detection{X: 30, Y: 30, W: 10, H: 10}, 20, image.Rect(10, 10, 60, 60), true},
		{"Top-left corner", types.Detection{X: 5, Y: 5, W: 10, H: 10}, 20, image.Rect(0, 0, 35, 35), true},
		{"Bottom-right corner", types.Detection{X: 90, Y: 70, W: 20, H: 20}, 20, image.Rect(70, 50, 100, 80), true},
		{"Negative origin from detector", types.Detection{X: -15, Y: -5, W: 30, H: 30}, 0, image.Rect(0, 0, 15, 25), true},
		{"Outside frame", types.Detection{X: 200, Y: 200, W: 10, H: 10}, 20, image.Rectangle{}, false},
		{"Degenerate box", types.Detection{X: 10, Y: 10, W: -40, H: 5}, 0, image.Rectangle{}, false},
		{"Negative width wider than padding", types.Detection{X: 50, Y: 10, W: -50, H: 5}, 20, image.Rectangle{}, false},
		{"Zero width grows with padding", types.Detection{X: 50, Y: 10, W: 0, H: 10}, 5, image.Rect(45, 5, 55, 25), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClampBox(tt.det, tt.pad, bounds)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ClampBox() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// TestClampBoxProperty checks 0 <= x1 < x2 <= W and 0 <= y1 < y2 <= H for random boxes.
func TestClampBoxProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const w, h = 320, 240
	bounds := image.Rect(0, 0, w, h)

	for i := 0; i < 5000; i++ {
		d := types.Detection{
			X: rng.IntN(2*w) - w/2,
			Y: rng.IntN(2*h) - h/2,
			W: rng.IntN(w),
			H: rng.IntN(h),
		}
		r, ok := ClampBox(d, rng.IntN(40), bounds)
		if !ok {
			continue
		}
		if r.Min.X < 0 || r.Min.X >= r.Max.X || r.Max.X > w ||
			r.Min.Y < 0 || r.Min.Y >= r.Max.Y || r.Max.Y > h {
			t.Fatalf("ClampBox(%+v) = %v violates frame bounds", d, r)
		}
	}
}

func TestCropResize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	out, err := cropResize(img, image.Rect(10, 10, 30, 40), 256)
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != 256 || out.Bounds().Dy() != 256 {
		t.Errorf("Expected 256x256, got %v", out.Bounds())
	}
}
