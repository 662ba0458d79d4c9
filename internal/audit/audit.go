// Package audit scores records against a fixed set of weighted completeness
// predicates and classifies their quality issues. It never mutates a record.
package audit

import (
	"math"
	"regexp"

	"github.com/medparse/medparse/internal/names"
	"github.com/medparse/medparse/internal/record"
)

// Quality tiers.
const (
	TierPoor      = "poor"
	TierFair      = "fair"
	TierGood      = "good"
	TierExcellent = "excellent"
)

// PassScore is the minimum score of a passing record.
const PassScore = 60

// Predicate is one named completeness check.
type Predicate struct {
	Name   string
	Weight float64
	Check  func(*record.Record) bool
}

// Predicates are evaluated independently; order only fixes report layout.
var Predicates = []Predicate{
	{"has_title", 2, func(r *record.Record) bool { return record.IsPresent(r.Metadata.Title) }},
	{"has_authors", 2, hasAuthors},
	{"has_sections", 2, func(r *record.Record) bool { return len(r.Structure.Sections) > 0 }},
	{"sections_have_content", 2, sectionsHaveContent},
	{"authors_are_valid", 1, authorsAreValid},
	{"has_doi", 1, func(r *record.Record) bool { return record.IsPresent(r.Metadata.DOI) }},
	{"has_year", 1, hasYear},
	{"has_journal", 1, func(r *record.Record) bool {
		return record.IsPresent(r.Metadata.Journal) || record.IsPresent(r.Metadata.JournalFull)
	}},
	{"has_abstract", 1, func(r *record.Record) bool { return record.IsPresent(r.Metadata.Abstract) }},
	{"has_entities", 1.5, func(r *record.Record) bool { return len(r.UMLSLinks) > 0 || len(r.Drugs) > 0 }},
	{"has_references", 1.5, hasReferences},
	{"refs_structured", 1, func(r *record.Record) bool { return len(r.Metadata.ReferencesStruct) > 0 }},
	{"has_figures", 1, func(r *record.Record) bool { return len(r.Structure.Figures) > 0 }},
	{"has_tables", 1, func(r *record.Record) bool { return len(r.Structure.Tables) > 0 }},
	{"has_statistics", 1, func(r *record.Record) bool { return len(r.Statistics) > 0 }},
	{"has_cross_refs", 0.5, func(r *record.Record) bool { return len(r.CrossRefs) > 0 }},
}

// Score evaluates every predicate and returns the 0-100 weighted score.
func Score(r *record.Record) (int, map[string]bool) {
	checks := make(map[string]bool, len(Predicates))
	var got, total float64
	for _, p := range Predicates {
		ok := p.Check(r)
		checks[p.Name] = ok
		total += p.Weight
		if ok {
			got += p.Weight
		}
	}
	if total == 0 {
		return 0, checks
	}
	return int(math.Round(100 * got / total)), checks
}

// Tier maps a score to its quality band.
func Tier(score int) string {
	switch {
	case score >= 90:
		return TierExcellent
	case score >= 75:
		return TierGood
	case score >= 60:
		return TierFair
	default:
		return TierPoor
	}
}

func hasAuthors(r *record.Record) bool {
	for _, a := range r.Metadata.Authors {
		if record.IsPresent(a) {
			return true
		}
	}
	return false
}

// authorsAreValid holds when every author is structured, none reads like an
// acknowledgement, and at least one is a person.
func authorsAreValid(r *record.Record) bool {
	authors := r.Metadata.Authors
	if len(authors) == 0 {
		return false
	}
	persons := 0
	for _, a := range authors {
		if !a.IsStructured() || names.IsAckLike(a.Name()) {
			return false
		}
		if !a.Group {
			persons++
		}
	}
	return persons > 0
}

func sectionsHaveContent(r *record.Record) bool {
	for _, s := range r.Structure.Sections {
		if record.IsPresent(s.Text()) {
			return true
		}
	}
	return false
}

func hasYear(r *record.Record) bool {
	return record.IsPresent(r.Metadata.YearNorm) || record.IsPresent(r.Metadata.Year)
}

func hasReferences(r *record.Record) bool {
	m := r.Metadata
	return len(m.ReferencesText) > 0 || len(m.ReferencesRaw) > 0 ||
		len(m.ReferencesStruct) > 0 || len(m.ReferencesEnriched) > 0
}

var yearFormat = regexp.MustCompile(`^\d{4}(?:-(?:0[1-9]|1[0-2]))?(?:-(?:0[1-9]|[12]\d|3[01]))?$`)
