package audit

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/medparse/medparse/internal/config"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/storage"
)

// Report artifact names.
const (
	SummaryFile = "quality_summary.json"
	IssuesFile  = "quality_issues.csv"
	FilesFile   = "quality_files.json"
)

// FileResult is the audit of one record file.
type FileResult struct {
	File   string          `json:"file"`
	Score  int             `json:"score"`
	Tier   string          `json:"tier"`
	Pass   bool            `json:"pass"`
	Checks map[string]bool `json:"checks,omitempty"`
	Issues []string        `json:"issues"`
	Error  string          `json:"error,omitempty"`
}

// Malformed reports whether the file could not be parsed.
func (f FileResult) Malformed() bool {
	return f.Error != ""
}

// Evaluate audits one parsed record.
func Evaluate(file string, r *record.Record) FileResult {
	score, checks := Score(r)
	issues := Issues(r)
	return FileResult{
		File:   file,
		Score:  score,
		Tier:   Tier(score),
		Pass:   !HasCritical(issues) && score >= PassScore,
		Checks: checks,
		Issues: issues,
	}
}

// MalformedResult is the audit of a file that failed to parse.
func MalformedResult(file string, err error) FileResult {
	return FileResult{
		File:   file,
		Tier:   TierPoor,
		Issues: []string{IssueJSONError},
		Error:  err.Error(),
	}
}

// Summary aggregates a batch. Malformed files count toward Total and
// Malformed only.
type Summary struct {
	RunID     string             `json:"run_id,omitempty"`
	Total     int                `json:"total_files"`
	Audited   int                `json:"audited"`
	Malformed int                `json:"json_errors"`
	Passed    int                `json:"passed"`
	Failed    int                `json:"failed"`
	PassRate  float64            `json:"pass_rate"`
	ScoreMean float64            `json:"score_mean"`
	ScoreMin  int                `json:"score_min"`
	ScoreMax  int                `json:"score_max"`
	Tiers     map[string]int     `json:"tiers"`
	Issues    map[string]int     `json:"issues"`
	Percent   map[string]float64 `json:"issue_percent"`
}

// Count returns the number of audited files carrying code.
func (s Summary) Count(code string) int {
	return s.Issues[code]
}

// Summarize aggregates file results.
func Summarize(runID string, files []FileResult) Summary {
	s := Summary{
		RunID:   runID,
		Total:   len(files),
		Tiers:   map[string]int{TierPoor: 0, TierFair: 0, TierGood: 0, TierExcellent: 0},
		Issues:  map[string]int{},
		Percent: map[string]float64{},
	}
	sum := 0
	for _, f := range files {
		if f.Malformed() {
			s.Malformed++
			continue
		}
		if s.Audited == 0 || f.Score < s.ScoreMin {
			s.ScoreMin = f.Score
		}
		if f.Score > s.ScoreMax {
			s.ScoreMax = f.Score
		}
		s.Audited++
		sum += f.Score
		s.Tiers[f.Tier]++
		if f.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
		for _, code := range f.Issues {
			s.Issues[code]++
		}
	}
	if s.Audited > 0 {
		s.ScoreMean = round2(float64(sum) / float64(s.Audited))
		s.PassRate = round2(float64(s.Passed) / float64(s.Audited))
		for code, n := range s.Issues {
			s.Percent[code] = round2(100 * float64(n) / float64(s.Audited))
		}
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Report is a full batch audit.
type Report struct {
	Summary Summary
	Files   []FileResult
}

// NewReport sorts files by name and summarizes them.
func NewReport(runID string, files []FileResult) *Report {
	sort.Slice(files, func(i, j int) bool { return files[i].File < files[j].File })
	return &Report{Summary: Summarize(runID, files), Files: files}
}

// Write stores the summary, the issue CSV and the per-file detail in dir.
func (r *Report) Write(dir string) error {
	if err := storage.WriteJSON(dir, SummaryFile, r.Summary); err != nil {
		return err
	}
	rows := make([][]string, 0, len(r.Files))
	for _, f := range r.Files {
		score := strconv.Itoa(f.Score)
		if f.Malformed() {
			score = ""
		}
		rows = append(rows, []string{f.File, score, f.Tier, strings.Join(f.Issues, ","), f.Error})
	}
	if err := storage.WriteCSV(dir, IssuesFile, []string{"file", "score", "tier", "issues", "error"}, rows); err != nil {
		return err
	}
	return storage.WriteJSON(dir, FilesFile, r.Files)
}

// GateFailure is one violated CI gate.
type GateFailure struct {
	Gate  string  `json:"gate"`
	Value float64 `json:"value"`
	Limit float64 `json:"limit"`
}

func (g GateFailure) String() string {
	return fmt.Sprintf("%s=%g (limit %g)", g.Gate, g.Value, g.Limit)
}

// CheckGates compares a summary against the configured thresholds.
// Negative count limits are disabled.
func CheckGates(s Summary, g config.GatesConfig) []GateFailure {
	var failures []GateFailure
	counts := []struct {
		gate  string
		value int
		limit int
	}{
		{"missing_title", s.Count(IssueTitleMissing), g.MaxMissingTitle},
		{"missing_authors", s.Count(IssueAuthorsMissing), g.MaxMissingAuthors},
		{"missing_doi", s.Count(IssueDOIMissing), g.MaxMissingDOI},
		{"malformed", s.Malformed, g.MaxMalformed},
	}
	for _, c := range counts {
		if c.limit >= 0 && c.value > c.limit {
			failures = append(failures, GateFailure{Gate: c.gate, Value: float64(c.value), Limit: float64(c.limit)})
		}
	}
	if g.MinPassRate > 0 && s.PassRate < g.MinPassRate {
		failures = append(failures, GateFailure{Gate: "pass_rate", Value: s.PassRate, Limit: g.MinPassRate})
	}
	return failures
}
