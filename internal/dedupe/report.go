package dedupe

import (
	"github.com/medparse/medparse/internal/storage"
)

// Report artifact names.
const (
	RemovedFile = "duplicates_removed.csv"
	ReportFile  = "dedupe_report.json"
)

// Report is the JSON audit trail of a dedupe run.
type Report struct {
	RunID     string    `json:"run_id"`
	Applied   bool      `json:"applied"`
	Total     int       `json:"total"`
	Malformed []string  `json:"malformed,omitempty"`
	Clusters  int       `json:"clusters"`
	Survivors int       `json:"survivors"`
	Removed   int       `json:"removed"`
	Removals  []Removal `json:"removals"`
}

// NewReport summarizes plan. Malformed files are listed but take no part in
// clustering.
func NewReport(runID string, applied bool, total int, malformed []string, plan Plan) Report {
	removals := plan.Removals
	if removals == nil {
		removals = []Removal{}
	}
	return Report{
		RunID:     runID,
		Applied:   applied,
		Total:     total,
		Malformed: malformed,
		Clusters:  plan.Clusters,
		Survivors: len(plan.Survivors),
		Removed:   len(plan.Removals),
		Removals:  removals,
	}
}

// WriteReport writes the removal CSV and the JSON report to dir.
func WriteReport(dir string, r Report) error {
	rows := make([][]string, 0, len(r.Removals))
	for _, rm := range r.Removals {
		rows = append(rows, []string{rm.Removed, rm.Key, rm.Survivor, rm.Reason, rm.RemovedPDF, rm.KeptPDF})
	}
	header := []string{"removed", "key", "survivor", "reason", "removed_pdf", "kept_pdf"}
	if err := storage.WriteCSV(dir, RemovedFile, header, rows); err != nil {
		return err
	}
	return storage.WriteJSON(dir, ReportFile, r)
}
