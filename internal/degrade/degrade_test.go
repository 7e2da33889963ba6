package degrade

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeNoiseJPEG writes a high-entropy image so size differences between
// quality levels are pronounced.
func writeNoiseJPEG(t *testing.T, path string) {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255})
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 95}))
}

func newTestDegrader(drift bool) *Degrader {
	d := New(drift, zap.NewNop())
	d.Out = io.Discard
	return d
}

func TestDegrade_Ladder(t *testing.T) {
	root := t.TempDir()
	hq := filepath.Join(root, "hq")
	rel := filepath.Join("videos_real", "abc", "frame_0.jpg")
	writeNoiseJPEG(t, filepath.Join(hq, rel))

	res, err := newTestDegrader(false).Degrade(context.Background(), hq, root, []int{60, 30, 10})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Summary.Processed)

	var sizes []int64
	for _, q := range []string{"q60", "q30", "q10"} {
		info, err := os.Stat(filepath.Join(root, q, rel))
		require.NoError(t, err, "missing %s variant", q)
		sizes = append(sizes, info.Size())
	}
	assert.GreaterOrEqual(t, sizes[0], sizes[1])
	assert.GreaterOrEqual(t, sizes[1], sizes[2])
	assert.Equal(t, sizes[0], res.Levels[0].Bytes)
	assert.Equal(t, float64(-1), res.Levels[0].MeanDrift())
}

func TestDegrade_Overwrites(t *testing.T) {
	root := t.TempDir()
	hq := filepath.Join(root, "hq")
	rel := filepath.Join("videos_fake", "v", "frame_15.jpg")
	writeNoiseJPEG(t, filepath.Join(hq, rel))

	stale := filepath.Join(root, "q30", rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	_, err := newTestDegrader(false).Degrade(context.Background(), hq, root, []int{30})
	require.NoError(t, err)

	f, err := os.Open(stale)
	require.NoError(t, err)
	defer f.Close()
	_, err = jpeg.DecodeConfig(f)
	assert.NoError(t, err, "stale variant must be replaced")
}

func TestDegrade_Unreadable(t *testing.T) {
	root := t.TempDir()
	hq := filepath.Join(root, "hq")
	writeNoiseJPEG(t, filepath.Join(hq, "videos_real", "a", "frame_0.jpg"))
	bad := filepath.Join(hq, "videos_real", "a", "frame_15.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not a jpeg"), 0o644))

	res, err := newTestDegrader(false).Degrade(context.Background(), hq, root, []int{60, 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.Processed)
	assert.Equal(t, 2, res.Summary.Skipped[types.SkipUnreadable])
	assert.NoFileExists(t, filepath.Join(root, "q60", "videos_real", "a", "frame_15.jpg"))
}

func TestDegrade_Drift(t *testing.T) {
	root := t.TempDir()
	hq := filepath.Join(root, "hq")
	writeNoiseJPEG(t, filepath.Join(hq, "videos_real", "a", "frame_0.jpg"))

	res, err := newTestDegrader(true).Degrade(context.Background(), hq, root, []int{60})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Levels[0].MeanDrift(), float64(0))
}

func TestDegrade_EmptyAndInvalid(t *testing.T) {
	root := t.TempDir()
	d := newTestDegrader(false)

	res, err := d.Degrade(context.Background(), filepath.Join(root, "missing"), root, []int{60})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.Total)

	_, err = d.Degrade(context.Background(), root, root, []int{0})
	assert.Error(t, err)
}
