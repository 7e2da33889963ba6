package score

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/andresmejia3/dfprep/internal/types"
)

// ErrUnrecognizedLayout is returned when a path does not follow
// .../<label>/<video>/<frame>.jpg with a known label directory.
var ErrUnrecognizedLayout = errors.New("unrecognized dataset layout")

// LabelFunc derives the binary label (1 = fake) and its directory name from an image path.
type LabelFunc func(path string) (int, string, error)

// DeriveLabel reads the label from the directory two levels above the image.
func DeriveLabel(path string) (int, string, error) {
	labelDir := filepath.Base(filepath.Dir(filepath.Dir(path)))
	switch labelDir {
	case types.LabelFake:
		return 1, labelDir, nil
	case types.LabelReal:
		return 0, labelDir, nil
	default:
		return 0, labelDir, fmt.Errorf("%w: %s (label directory %q)", ErrUnrecognizedLayout, path, labelDir)
	}
}

// videoAndFrame returns the video directory name and the image file name.
func videoAndFrame(path string) (string, string) {
	return filepath.Base(filepath.Dir(path)), filepath.Base(path)
}
