// Package merge links records to external bibliographic entries and merges
// the matched fields through the provenance patcher.
package merge

import (
	"github.com/medparse/medparse/internal/names"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/sources"
	"github.com/medparse/medparse/internal/textnorm"
)

// Match methods, strongest first.
const (
	MethodOverride   = "override"
	MethodDOI        = "doi"
	MethodTitleExact = "title_exact"
	MethodTitleFuzzy = "title_fuzzy"
	MethodAuthorYear = "author_year"
)

// Methods lists the cascade in evaluation order.
var Methods = []string{MethodDOI, MethodTitleExact, MethodTitleFuzzy, MethodAuthorYear}

// Intrinsic method confidences.
const (
	ConfidenceOverride   = 1.0
	ConfidenceDOI        = 1.0
	ConfidenceTitleExact = 0.95
	ConfidenceAuthorYear = 0.75
)

// DefaultFuzzyThreshold is the minimum token-set Jaccard for a fuzzy title match.
const DefaultFuzzyThreshold = 0.85

// FuzzyConfidence maps a fuzzy similarity to a confidence between the
// author-year and exact-title confidences.
func FuzzyConfidence(score float64) float64 {
	return 0.8 + 0.1*score
}

// Source returns the patch source tag of a method.
func Source(method string) string {
	return "merge:" + method
}

// Match is a resolved link between a record and an entry.
type Match struct {
	Entry      sources.Entry
	Method     string
	Confidence float64
	Score      float64 // Method-specific similarity, 1 for exact methods
}

// Matcher runs the identity cascade over an index.
type Matcher struct {
	index     *sources.Index
	threshold float64

	titles   []map[string]struct{}
	surnames []map[string]bool
}

// NewMatcher precomputes title tokens and surname sets for every entry.
func NewMatcher(ix *sources.Index, fuzzyThreshold float64) *Matcher {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = DefaultFuzzyThreshold
	}
	m := &Matcher{index: ix, threshold: fuzzyThreshold}
	for _, e := range ix.Entries() {
		m.titles = append(m.titles, textnorm.Tokens(e.Title))
		set := make(map[string]bool)
		for _, s := range names.Surnames(e.Authors) {
			set[s] = true
		}
		m.surnames = append(m.surnames, set)
	}
	return m
}

// Match returns the first method in the cascade that finds an entry.
func (m *Matcher) Match(r *record.Record) (Match, bool) {
	if mt, ok := m.byDOI(r); ok {
		return mt, true
	}
	if mt, ok := m.byTitleExact(r); ok {
		return mt, true
	}
	if mt, ok := m.byTitleFuzzy(r); ok {
		return mt, true
	}
	return m.byAuthorYear(r)
}

// Forced resolves an override's explicit match target.
func (m *Matcher) Forced(target *sources.OverrideMatch) (Match, bool) {
	if target == nil {
		return Match{}, false
	}
	if target.DOI != "" {
		if e, ok := m.index.ByDOI(target.DOI); ok {
			return Match{Entry: e, Method: MethodOverride, Confidence: ConfidenceOverride, Score: 1}, true
		}
	}
	if target.Key != "" {
		if e, ok := m.index.ByKey(target.Key); ok {
			return Match{Entry: e, Method: MethodOverride, Confidence: ConfidenceOverride, Score: 1}, true
		}
	}
	return Match{}, false
}

func (m *Matcher) byDOI(r *record.Record) (Match, bool) {
	doi := textnorm.NormalizeDOI(r.Metadata.DOI)
	if doi == "" {
		return Match{}, false
	}
	e, ok := m.index.ByDOI(doi)
	if !ok {
		return Match{}, false
	}
	return Match{Entry: e, Method: MethodDOI, Confidence: ConfidenceDOI, Score: 1}, true
}

func (m *Matcher) byTitleExact(r *record.Record) (Match, bool) {
	if !record.IsPresent(r.Metadata.Title) {
		return Match{}, false
	}
	// Several entries may share a title; load order breaks the tie.
	entries := m.index.ByTitle(r.Metadata.Title)
	if len(entries) == 0 {
		return Match{}, false
	}
	return Match{Entry: entries[0], Method: MethodTitleExact, Confidence: ConfidenceTitleExact, Score: 1}, true
}

func (m *Matcher) byTitleFuzzy(r *record.Record) (Match, bool) {
	if !record.IsPresent(r.Metadata.Title) {
		return Match{}, false
	}
	tokens := textnorm.Tokens(r.Metadata.Title)
	if len(tokens) == 0 {
		return Match{}, false
	}
	best, bestScore := -1, 0.0
	for i, t := range m.titles {
		score := textnorm.Jaccard(tokens, t)
		if score >= m.threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Match{}, false
	}
	return Match{
		Entry:      m.index.Entries()[best],
		Method:     MethodTitleFuzzy,
		Confidence: FuzzyConfidence(bestScore),
		Score:      bestScore,
	}, true
}

// byAuthorYear requires every record surname to appear among the entry's
// authors and the publication years to agree.
func (m *Matcher) byAuthorYear(r *record.Record) (Match, bool) {
	year := sources.RecordYear(r)
	if year == 0 {
		return Match{}, false
	}
	surnames := uniq(names.Surnames(r.Metadata.Authors))
	if len(surnames) == 0 {
		return Match{}, false
	}

	best, bestScore := -1, 0.0
	entries := m.index.Entries()
	for i, e := range entries {
		if e.Year != year || len(m.surnames[i]) == 0 {
			continue
		}
		covered := true
		for _, s := range surnames {
			if !m.surnames[i][s] {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}
		score := float64(len(surnames)) / float64(len(m.surnames[i]))
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Match{}, false
	}
	return Match{Entry: entries[best], Method: MethodAuthorYear, Confidence: ConfidenceAuthorYear, Score: bestScore}, true
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
