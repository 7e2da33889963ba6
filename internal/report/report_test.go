package report

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRecord(t *testing.T) {
	s := New("EXTRACT", "frames")
	s.Record(nil)
	s.Record(types.NewSkip(types.SkipNoFace, nil))
	s.Record(types.NewSkip(types.SkipNoFace, errors.New("x")))
	s.Record(errors.New("disk full"))

	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Skipped[types.SkipNoFace])
	assert.Equal(t, 1, s.Skipped[types.SkipWrite])
	assert.Equal(t, 3, s.SkippedTotal())
}

func TestAdd(t *testing.T) {
	s := New("EXTRACT", "frames")
	s.Add(30, map[types.SkipReason]int{types.SkipNoFace: 2})
	s.Add(1, nil)

	assert.Equal(t, 31, s.Processed)
	assert.Equal(t, 33, s.Total)
	assert.Equal(t, 2, s.SkippedTotal())
}

func TestPrint(t *testing.T) {
	s := New("DEGRADE", "images")
	s.Record(nil)
	s.Record(types.NewSkip(types.SkipUnreadable, nil))
	s.Note("q10: %d written", 1)
	s.Finish()

	var buf bytes.Buffer
	s.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "DEGRADE")
	assert.Contains(t, out, "Skipped (unreadable)")
	assert.Contains(t, out, "q10: 1 written")
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3661 * time.Second, "01:01:01"},
	}

	for _, tt := range tests {
		if got := FmtDuration(tt.d); got != tt.want {
			t.Errorf("FmtDuration(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
