package score

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/andresmejia3/dfprep/internal/types"
	"github.com/andresmejia3/dfprep/internal/utils"
)

var (
	singleHeader = []string{"video", "frame", "label", "label_str", "scenario", "score"}
	stressHeader = []string{"model", "scenario", "label", "score"}
)

// WriteResults writes the single-model table atomically.
func WriteResults(path string, records []types.ScoreRecord) error {
	return writeCSV(path, singleHeader, records, func(r types.ScoreRecord) []string {
		return []string{r.Video, r.Frame, strconv.Itoa(r.Label), r.LabelStr, r.Scenario, formatScore(r.Score)}
	})
}

// WriteStressResults writes the multi-model table atomically.
func WriteStressResults(path string, records []types.ScoreRecord) error {
	return writeCSV(path, stressHeader, records, func(r types.ScoreRecord) []string {
		return []string{r.Model, r.Scenario, strconv.Itoa(r.Label), formatScore(r.Score)}
	})
}

func writeCSV(path string, header []string, records []types.ScoreRecord, row func(types.ScoreRecord) []string) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, r := range records {
			if err := cw.Write(row(r)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
