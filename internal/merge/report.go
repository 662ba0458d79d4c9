package merge

import (
	"fmt"
	"strconv"

	"github.com/medparse/medparse/internal/storage"
)

// Report artifact names.
const (
	ReportFile  = "merge_report.csv"
	SummaryFile = "merge_summary.json"
)

// Summary aggregates a merge run.
type Summary struct {
	RunID            string         `json:"run_id,omitempty"`
	DryRun           bool           `json:"dry_run"`
	Total            int            `json:"total"`
	Matched          map[string]int `json:"matched"`
	Unmatched        int            `json:"unmatched"`
	DOIConflicts     int            `json:"doi_conflicts"`
	Malformed        int            `json:"malformed"`
	OverridesApplied int            `json:"overrides_applied"`
	Patches          int            `json:"patches"`
}

// MatchedTotal returns the number of matched records over every method.
func (s Summary) MatchedTotal() int {
	n := 0
	for _, c := range s.Matched {
		n += c
	}
	return n
}

// Summarize aggregates per-record results.
func Summarize(runID string, dryRun bool, results []Result) Summary {
	s := Summary{RunID: runID, DryRun: dryRun, Total: len(results), Matched: map[string]int{}}
	for _, r := range results {
		switch r.Status {
		case StatusMalformed:
			s.Malformed++
			continue
		case StatusMatched:
			s.Matched[r.Method]++
		default:
			s.Unmatched++
		}
		if r.DOIConflict {
			s.DOIConflicts++
		}
		if r.OverrideApplied {
			s.OverridesApplied++
		}
		s.Patches += len(r.Patches)
	}
	return s
}

// StrictViolations returns the reasons a strict run fails: an unmatched
// share above maxUnmatched, or any DOI conflict.
func (s Summary) StrictViolations(maxUnmatched float64) []string {
	var out []string
	if considered := s.Total - s.Malformed; considered > 0 {
		if share := float64(s.Unmatched) / float64(considered); share > maxUnmatched {
			out = append(out, fmt.Sprintf("unmatched share %.3f exceeds %.3f", share, maxUnmatched))
		}
	}
	if s.DOIConflicts > 0 {
		out = append(out, fmt.Sprintf("%d DOI conflicts", s.DOIConflicts))
	}
	return out
}

// WriteReport stores the per-record CSV and the summary in dir.
func WriteReport(dir string, summary Summary, results []Result) error {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		conf := ""
		if r.Method != "" {
			conf = strconv.FormatFloat(r.Confidence, 'f', 4, 64)
		}
		conflict := ""
		if r.DOIConflict {
			conflict = "yes"
		}
		status := r.Status
		if r.Error != "" {
			status = StatusMalformed
		}
		rows = append(rows, []string{
			r.File, status, r.Method, conf, r.Key, conflict, r.RecordDOI, r.EntryDOI, strconv.Itoa(len(r.Patches)),
		})
	}
	header := []string{"file", "status", "method", "confidence", "key", "doi_conflict", "record_doi", "entry_doi", "patches"}
	if err := storage.WriteCSV(dir, ReportFile, header, rows); err != nil {
		return err
	}
	return storage.WriteJSON(dir, SummaryFile, summary)
}
