// Package provenance decides whether a candidate field value may replace the
// current one and logs every accepted change as a patch.
package provenance

import (
	"strings"

	"github.com/medparse/medparse/internal/record"
)

// Source tags written into patches.
const (
	SourceManual          = "manual_patch"
	SourceCrossref        = "crossref"
	SourceMergeOverride   = "merge:override"
	SourceMergeDOI        = "merge:doi"
	SourceMergeTitleExact = "merge:title_exact"
	SourceMergeTitleFuzzy = "merge:title_fuzzy"
	SourceMergeAuthorYear = "merge:author_year"
	SourceHarden          = "harden"
	SourceExtraction      = "extraction"
)

// Precedence lists source families from strongest to weakest. Manual
// overrides bypass confidence; the rest compete on confidence, and the
// default confidences each stage assigns follow this order.
var Precedence = []string{
	SourceManual,
	SourceCrossref,
	SourceMergeOverride,
	SourceMergeDOI,
	SourceMergeTitleExact,
	SourceMergeTitleFuzzy,
	SourceMergeAuthorYear,
	SourceHarden,
	SourceExtraction,
}

// Rank returns the position of source in Precedence. Stage-qualified tags
// such as "harden:doi" rank with their family. Unknown sources rank last.
func Rank(source string) int {
	for i, s := range Precedence {
		if source == s || strings.HasPrefix(source, s+":") {
			return i
		}
	}
	return len(Precedence)
}

// IsManual reports whether source is the manual override escape hatch.
func IsManual(source string) bool {
	return Rank(source) == 0
}

// Candidate is a proposed value for one field.
type Candidate struct {
	Value      any
	Source     string
	Confidence float64
	// Derived marks a repair computed from the current value itself
	// (filtered authors, cleaned DOI). It keeps the current confidence.
	Derived bool
}

// FieldState is what the record currently holds for a field.
type FieldState struct {
	Value      any
	Present    bool
	Confidence float64
}

// Action is the outcome of evaluating the rules.
type Action int

const (
	Skip Action = iota
	Overwrite
)

func (a Action) String() string {
	if a == Overwrite {
		return "overwrite"
	}
	return "skip"
}

// Decision names the rule that fired and the confidence to record.
type Decision struct {
	Action     Action
	Rule       string
	Confidence float64
}

// Rule is one (predicate, action) pair.
type Rule struct {
	Name   string
	When   func(cur FieldState, cand Candidate) bool
	Action Action
	// Confidence picks the confidence recorded on overwrite.
	Confidence func(cur FieldState, cand Candidate) float64
}

func candidateConfidence(_ FieldState, cand Candidate) float64 { return cand.Confidence }

// DefaultRules is the overwrite policy, evaluated top to bottom.
var DefaultRules = []Rule{
	{
		Name: "manual-wins",
		When: func(cur FieldState, cand Candidate) bool {
			return IsManual(cand.Source) && !record.Equal(cur.Value, cand.Value)
		},
		Action:     Overwrite,
		Confidence: candidateConfidence,
	},
	{
		Name:   "empty-candidate",
		When:   func(_ FieldState, cand Candidate) bool { return !record.IsPresent(cand.Value) },
		Action: Skip,
	},
	{
		Name:   "unchanged",
		When:   func(cur FieldState, cand Candidate) bool { return record.Equal(cur.Value, cand.Value) },
		Action: Skip,
	},
	{
		Name:   "derived-repair",
		When:   func(cur FieldState, cand Candidate) bool { return cand.Derived && cur.Present },
		Action: Overwrite,
		Confidence: func(cur FieldState, cand Candidate) float64 {
			return cur.Confidence
		},
	},
	{
		Name:       "fill-empty",
		When:       func(cur FieldState, _ Candidate) bool { return !cur.Present },
		Action:     Overwrite,
		Confidence: candidateConfidence,
	},
	{
		Name:       "higher-confidence",
		When:       func(cur FieldState, cand Candidate) bool { return cand.Confidence > cur.Confidence },
		Action:     Overwrite,
		Confidence: candidateConfidence,
	},
	{
		Name:   "keep-existing",
		When:   func(FieldState, Candidate) bool { return true },
		Action: Skip,
	},
}

// Evaluate returns the decision of the first rule whose predicate holds.
func Evaluate(rules []Rule, cur FieldState, cand Candidate) Decision {
	for _, r := range rules {
		if !r.When(cur, cand) {
			continue
		}
		d := Decision{Action: r.Action, Rule: r.Name}
		if r.Action == Overwrite && r.Confidence != nil {
			d.Confidence = clamp(r.Confidence(cur, cand))
		}
		return d
	}
	return Decision{Action: Skip, Rule: "no-rule"}
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
