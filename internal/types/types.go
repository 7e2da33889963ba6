package types

import (
	"fmt"
	"image"
)

// Class directory names used throughout the frame trees.
const (
	LabelReal = "videos_real"
	LabelFake = "videos_fake"
)

// ScenarioHQ is the scenario holding the faces as extracted.
const ScenarioHQ = "hq"

// Split is one side of the train/test partition.
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// Detection is a single face box returned by the detector, in pixel space.
type Detection struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Rect returns the detection as an image.Rectangle. Unlike image.Rect it does
// not swap the corners, so a negative size yields an empty rectangle.
func (d Detection) Rect() image.Rectangle {
	return image.Rectangle{Min: image.Pt(d.X, d.Y), Max: image.Pt(d.X+d.W, d.Y+d.H)}
}

// Area is the box area in pixels.
func (d Detection) Area() int {
	if d.W <= 0 || d.H <= 0 {
		return 0
	}
	return d.W * d.H
}

// FaceImage is one cropped face written by the extractor.
type FaceImage struct {
	VideoID  string
	Frame    int
	Label    string
	Scenario string
	Path     string
}

// ScoreRecord is one scored image. Model is empty for single-model runs.
type ScoreRecord struct {
	Model    string
	Video    string
	Frame    string
	Label    int
	LabelStr string
	Scenario string
	Score    float64
}

// SkipReason categorizes why a unit of work produced no output.
type SkipReason string

const (
	SkipDone          SkipReason = "already_done"
	SkipOpen          SkipReason = "open"
	SkipConvert       SkipReason = "convert"
	SkipDetect        SkipReason = "detect"
	SkipNoFace        SkipReason = "no_face"
	SkipEmptyCrop     SkipReason = "empty_crop"
	SkipWrite         SkipReason = "write"
	SkipUnreadable    SkipReason = "unreadable"
	SkipMissingSource SkipReason = "missing_source"
	SkipStructure     SkipReason = "structure"
	SkipClassify      SkipReason = "classify"
)

// Skip is the error returned for a recoverable, per-unit failure.
type Skip struct {
	Reason SkipReason
	Err    error
}

func (s *Skip) Error() string {
	if s.Err == nil {
		return string(s.Reason)
	}
	return fmt.Sprintf("%s: %v", s.Reason, s.Err)
}

func (s *Skip) Unwrap() error { return s.Err }

// NewSkip wraps err with a skip reason.
func NewSkip(reason SkipReason, err error) *Skip {
	return &Skip{Reason: reason, Err: err}
}
