// Package report aggregates per-unit outcomes into an end-of-stage summary.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/fatih/color"
)

// Summary counts processed units and skips by reason for one stage.
type Summary struct {
	Stage     string
	Unit      string // "frames", "images", "videos", ...
	Processed int
	Total     int
	Skipped   map[types.SkipReason]int
	Notes     []string
	Elapsed   time.Duration
	start     time.Time
}

// New starts a summary; Elapsed is measured from this call until Finish.
func New(stage, unit string) *Summary {
	return &Summary{
		Stage:   stage,
		Unit:    unit,
		Skipped: make(map[types.SkipReason]int),
		start:   time.Now(),
	}
}

// Record counts one unit outcome. A nil error is a success; a *types.Skip is
// counted under its reason; any other error counts as a write failure.
func (s *Summary) Record(err error) {
	s.Total++
	if err == nil {
		s.Processed++
		return
	}
	var skip *types.Skip
	if errors.As(err, &skip) {
		s.Skipped[skip.Reason]++
		return
	}
	s.Skipped[types.SkipWrite]++
}

// Add merges per-reason counts produced elsewhere (e.g. by a video's frame loop).
func (s *Summary) Add(processed int, skipped map[types.SkipReason]int) {
	s.Processed += processed
	s.Total += processed
	for r, n := range skipped {
		s.Skipped[r] += n
		s.Total += n
	}
}

// Note appends a free-form line printed under the counts.
func (s *Summary) Note(format string, args ...any) {
	s.Notes = append(s.Notes, fmt.Sprintf(format, args...))
}

// SkippedTotal is the number of units that produced no output.
func (s *Summary) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

func (s *Summary) Finish() {
	s.Elapsed = time.Since(s.start)
}

// Print writes the summary block in the CLI's banner style.
func (s *Summary) Print(w io.Writer) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 %s SUMMARY\n", bold(s.Stage))
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "✅ Processed: %s / %d %s\n", green(s.Processed), s.Total, s.Unit)

	reasons := make([]string, 0, len(s.Skipped))
	for r, n := range s.Skipped {
		if n > 0 {
			reasons = append(reasons, string(r))
		}
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "⚠️  Skipped (%s): %s\n", r, yellow(s.Skipped[types.SkipReason(r)]))
	}
	for _, n := range s.Notes {
		fmt.Fprintf(w, "   %s\n", n)
	}
	fmt.Fprintf(w, "⏱️  Elapsed: %s\n", FmtDuration(s.Elapsed))
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// FmtDuration renders a duration as HH:MM:SS.
func FmtDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
