package harden

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/medparse/medparse/internal/storage"
)

// Report artifact names.
const (
	ChangesFile = "hardening_changes.csv"
	SummaryFile = "hardening_summary.json"
)

// Summary aggregates a hardening run.
type Summary struct {
	RunID     string         `json:"run_id"`
	DryRun    bool           `json:"dry_run"`
	Total     int            `json:"total"`
	Changed   int            `json:"changed"`
	Unchanged int            `json:"unchanged"`
	Failed    int            `json:"failed"`
	Patches   int            `json:"patches"`
	Fixes     map[string]int `json:"fixes"`   // by field
	Actions   map[string]int `json:"actions"` // by action
}

// Summarize aggregates per-record results.
func Summarize(runID string, dryRun bool, results []Result) Summary {
	s := Summary{
		RunID:   runID,
		DryRun:  dryRun,
		Total:   len(results),
		Fixes:   make(map[string]int),
		Actions: make(map[string]int),
	}
	for _, r := range results {
		switch {
		case r.Error != "":
			s.Failed++
		case r.Changed():
			s.Changed++
		default:
			s.Unchanged++
		}
		s.Patches += len(r.Patches)
		for _, f := range r.Fixes {
			s.Fixes[f.Field]++
			s.Actions[f.Action]++
		}
	}
	return s
}

// WriteReport writes the change list and summary to dir.
func WriteReport(dir string, summary Summary, results []Result) error {
	sorted := append([]Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].File < sorted[j].File })

	var rows [][]string
	for _, r := range sorted {
		if r.Error != "" {
			rows = append(rows, []string{r.File, "", "error", "", r.Error})
			continue
		}
		for _, f := range r.Fixes {
			rows = append(rows, []string{r.File, f.Field, f.Action, cell(f.Old), cell(f.New)})
		}
	}
	header := []string{"file", "field", "action", "old", "new"}
	if err := storage.WriteCSV(dir, ChangesFile, header, rows); err != nil {
		return err
	}
	return storage.WriteJSON(dir, SummaryFile, summary)
}

// cell renders a fix value for CSV.
func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
