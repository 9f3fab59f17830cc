package ranking

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/himanishpuri/mast/pkg/models"
	"github.com/himanishpuri/mast/pkg/utils"
)

var (
	// ErrNothingToExport is returned when there are no results to write.
	ErrNothingToExport = errors.New("ranking: nothing to export")
	// ErrExport wraps I/O failures while writing an export.
	ErrExport = errors.New("ranking: export failed")
)

// CSVHeader is the first row of every export.
var CSVHeader = []string{
	"Reference Song",
	"Reference Full Path",
	"Compared Song",
	"Compared Full Path",
	"Similarity Score",
}

// Rank orders matches by ascending score, breaking ties by path, and keeps at
// most max entries. Truncation happens after sorting so late-found best
// matches are never dropped. max <= 0 keeps everything. The input is not
// modified.
func Rank(matches []models.Match, max int) []models.Match {
	out := make([]models.Match, len(matches))
	copy(out, matches)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// WriteCSV writes the header and one row per result in the given order.
func WriteCSV(w io.Writer, referencePath string, results []models.Match) error {
	if len(results) == 0 {
		return ErrNothingToExport
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	refName := filepath.Base(referencePath)
	for _, r := range results {
		row := []string{
			refName,
			referencePath,
			filepath.Base(r.Path),
			r.Path,
			strconv.FormatFloat(r.Score, 'f', 4, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("%w: %v", ErrExport, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	return nil
}

// ExportCSV writes results to path. The file appears only once fully
// written; with no results nothing is created.
func ExportCSV(path, referencePath string, results []models.Match) error {
	if len(results) == 0 {
		return ErrNothingToExport
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mast-export-*.csv")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteCSV(tmp, referencePath, results); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := utils.MoveFile(tmpName, path); err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	return nil
}

// DefaultExportName returns mast_similarities_YYYYMMDD_HHMMSS.csv for now.
func DefaultExportName(now time.Time) string {
	return "mast_similarities_" + now.Format("20060102_150405") + ".csv"
}
