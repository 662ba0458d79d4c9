package enrich

import (
	"sort"
	"strconv"
	"strings"

	"github.com/medparse/medparse/internal/storage"
)

// Report artifact names.
const (
	ChangesFile = "enrich_changes.csv"
	SummaryFile = "enrich_summary.json"
)

// Summary aggregates an enrichment run.
type Summary struct {
	RunID     string         `json:"run_id"`
	DryRun    bool           `json:"dry_run"`
	Total     int            `json:"total"`
	Statuses  map[string]int `json:"statuses"`
	Fields    map[string]int `json:"fields_filled"`
	Patches   int            `json:"patches"`
	Lookups   int            `json:"lookups"`
	CacheHits int            `json:"cache_hits"`
}

// Summarize aggregates per-record results.
func Summarize(runID string, dryRun bool, results []Result) Summary {
	s := Summary{
		RunID:    runID,
		DryRun:   dryRun,
		Total:    len(results),
		Statuses: make(map[string]int),
		Fields:   make(map[string]int),
	}
	for _, r := range results {
		s.Statuses[r.Status]++
		s.Patches += len(r.Patches)
		s.Lookups += r.Attempts
		if r.Cached {
			s.CacheHits++
		}
		for _, f := range r.Fields {
			s.Fields[f]++
		}
	}
	return s
}

// WriteReport writes the per-record CSV and the summary to dir.
func WriteReport(dir string, summary Summary, results []Result) error {
	sorted := append([]Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].File < sorted[j].File })

	rows := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		score := ""
		if r.Score > 0 {
			score = strconv.FormatFloat(r.Score, 'f', 4, 64)
		}
		reason := r.Reason
		if r.Error != "" {
			reason = r.Error
		}
		rows = append(rows, []string{r.File, r.Status, reason, score, r.DOI, strings.Join(r.Fields, ";")})
	}
	header := []string{"file", "status", "reason", "score", "doi", "fields"}
	if err := storage.WriteCSV(dir, ChangesFile, header, rows); err != nil {
		return err
	}
	return storage.WriteJSON(dir, SummaryFile, summary)
}
