package merge

import (
	"fmt"
	"time"

	"github.com/medparse/medparse/internal/provenance"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/sources"
	"github.com/medparse/medparse/internal/textnorm"
)

// Record statuses reported by the merger.
const (
	StatusMatched   = "matched"
	StatusOverride  = "override_only"
	StatusUnmatched = "unmatched"
	StatusMalformed = "malformed"
)

// Merger applies external matches and manual overrides to records.
type Merger struct {
	matcher   *Matcher
	overrides *sources.Overrides
	base      float64
	now       func() time.Time
}

// Option configures a Merger.
type Option func(*Merger)

// WithBaseConfidence sets the confidence of unpatched extracted values.
func WithBaseConfidence(c float64) Option {
	return func(m *Merger) {
		m.base = c
	}
}

// WithClock sets the patch timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Merger) {
		m.now = now
	}
}

// New creates a Merger. overrides may be nil.
func New(matcher *Matcher, overrides *sources.Overrides, opts ...Option) *Merger {
	m := &Merger{
		matcher:   matcher,
		overrides: overrides,
		base:      provenance.DefaultBaseConfidence,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result describes what merging did to one record.
type Result struct {
	File            string
	Status          string
	Method          string
	Confidence      float64
	Key             string
	RecordDOI       string // the record's DOI before merging
	EntryDOI        string
	DOIConflict     bool
	OverrideApplied bool
	Patches         []record.Patch
	Error           string
}

// Apply matches rec and merges the matched entry and any manual override
// into it. rec is modified in place; callers that must not persist changes
// simply skip writing it.
func (m *Merger) Apply(file string, rec *record.Record) (Result, error) {
	res := Result{File: file, Status: StatusUnmatched}
	p := provenance.NewPatcher(rec,
		provenance.WithBaseConfidence(m.base),
		provenance.WithClock(m.now),
	)

	ov, hasOverride := m.overrides.For(file, rec.Provenance.OrigPDFFilename, rec.Metadata.Title)

	match, ok := Match{}, false
	if hasOverride {
		match, ok = m.matcher.Forced(ov.Match)
	}
	if !ok {
		match, ok = m.matcher.Match(rec)
	}

	if ok {
		res.Status = StatusMatched
		res.Method = match.Method
		res.Confidence = match.Confidence
		res.Key = match.Entry.Key
		res.EntryDOI = textnorm.NormalizeDOI(match.Entry.DOI)

		res.RecordDOI = textnorm.NormalizeDOI(rec.Metadata.DOI)
		res.DOIConflict = res.RecordDOI != "" && res.EntryDOI != "" && res.RecordDOI != res.EntryDOI

		if err := m.mergeEntry(p, rec, match); err != nil {
			return res, err
		}
	}

	if hasOverride {
		for _, f := range ov.Fields() {
			d, err := p.Propose(f.Path, provenance.Candidate{
				Value:      f.Value,
				Source:     provenance.SourceManual,
				Confidence: 1.0,
			})
			if err != nil {
				return res, fmt.Errorf("override %s: %w", f.Path, err)
			}
			if d.Action == provenance.Overwrite {
				res.OverrideApplied = true
			}
		}
		if res.Status == StatusUnmatched && res.OverrideApplied {
			res.Status = StatusOverride
		}
	}

	res.Patches = p.Applied()
	return res, nil
}

func (m *Merger) mergeEntry(p *provenance.Patcher, rec *record.Record, match Match) error {
	source := Source(match.Method)
	for _, f := range match.Entry.Fields() {
		if _, err := p.Propose(f.Path, provenance.Candidate{
			Value:      f.Value,
			Source:     source,
			Confidence: match.Confidence,
		}); err != nil {
			return fmt.Errorf("merging %s: %w", f.Path, err)
		}
	}

	if len(match.Entry.PDFs) > 0 && !record.IsPresent(rec.Provenance.OrigPDFFilename) {
		if _, err := p.Propose("provenance.orig_pdf_filename", provenance.Candidate{
			Value:      match.Entry.PDFs[0],
			Source:     source,
			Confidence: match.Confidence,
		}); err != nil {
			return err
		}
	}

	// A record already linked to this entry keeps its original link.
	if z := rec.Provenance.Zotero; z != nil && z.Key != "" && z.Key == match.Entry.Key {
		return nil
	}
	rec.Provenance.Zotero = &record.ExternalMatch{
		Key:             match.Entry.Key,
		Source:          match.Entry.Origin,
		MatchMethod:     match.Method,
		MatchConfidence: match.Confidence,
	}
	return nil
}
