// Package harden applies deterministic, network-free repairs to records.
// Every repair goes through the provenance patcher and is also logged in
// validation.hardening.fixes. Running the hardener on its own output is a
// no-op.
package harden

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/medparse/medparse/internal/pdf"
	"github.com/medparse/medparse/internal/provenance"
	"github.com/medparse/medparse/internal/record"
)

// Confidences assigned to values the hardener derives from scratch.
// Repairs of an existing value keep that value's confidence instead.
const (
	ConfidenceFromFilename  = 0.3
	ConfidenceFromPublished = 0.6
	ConfidenceFrontMatter   = 0.6
	ConfidenceFromPDF       = 0.55
	ConfidenceAbstract      = 0.45
	ConfidenceYearParsed    = 0.6
	ConfidenceFromSections  = 0.6
)

// Defaults for Options.
const (
	DefaultFrontMatterChars = 6000
	DefaultMaxAbstractChars = 2000
)

// Options configures a Hardener.
type Options struct {
	FrontMatterChars int
	MaxAbstractChars int
	BaseConfidence   float64
	Journals         *JournalTable
	PDFs             *pdf.Locator
	PDFPages         int
	Now              func() time.Time
}

// Hardener runs the repair operations in a fixed order.
type Hardener struct {
	opts Options
	ops  []operation
}

// operation is one named repair.
type operation struct {
	field string
	run   func(h *Hardener, c *opContext) error
}

// opContext is the per-record state shared by operations.
type opContext struct {
	file     string
	rec      *record.Record
	patcher  *provenance.Patcher
	fixes    []record.Fix
	warnings []string
}

// New creates a Hardener, filling zero options with defaults.
func New(opts Options) *Hardener {
	if opts.FrontMatterChars <= 0 {
		opts.FrontMatterChars = DefaultFrontMatterChars
	}
	if opts.MaxAbstractChars <= 0 {
		opts.MaxAbstractChars = DefaultMaxAbstractChars
	}
	if opts.BaseConfidence <= 0 {
		opts.BaseConfidence = provenance.DefaultBaseConfidence
	}
	if opts.Journals == nil {
		opts.Journals = DefaultJournals()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hardener{
		opts: opts,
		ops: []operation{
			{"title", (*Hardener).fixTitle},
			{"year_norm", (*Hardener).fixYear},
			{"authors", (*Hardener).fixAuthors},
			{"doi", (*Hardener).fixDOI},
			{"journal_full", (*Hardener).fixJournal},
			{"abstract", (*Hardener).fixAbstract},
		},
	}
}

// Result is what hardening did to one record.
type Result struct {
	File     string
	Patches  []record.Patch
	Fixes    []record.Fix
	Warnings []string
	Error    string
}

// Changed reports whether any repair was applied.
func (r Result) Changed() bool {
	return len(r.Patches) > 0
}

// Apply repairs rec in place. file is the record's file name, used for the
// filename fallbacks.
func (h *Hardener) Apply(file string, rec *record.Record) (Result, error) {
	c := &opContext{
		file: file,
		rec:  rec,
		patcher: provenance.NewPatcher(rec,
			provenance.WithBaseConfidence(h.opts.BaseConfidence),
			provenance.WithClock(h.opts.Now),
		),
	}
	for _, op := range h.ops {
		if err := op.run(h, c); err != nil {
			return Result{File: file}, fmt.Errorf("%s: %w", op.field, err)
		}
	}

	if len(c.fixes) > 0 {
		if rec.Validation == nil {
			rec.Validation = &record.Validation{}
		}
		if rec.Validation.Hardening == nil {
			rec.Validation.Hardening = &record.Hardening{}
		}
		rec.Validation.Hardening.Fixes = append(rec.Validation.Hardening.Fixes, c.fixes...)
	}
	return Result{
		File:     file,
		Patches:  c.patcher.Applied(),
		Fixes:    c.fixes,
		Warnings: c.warnings,
	}, nil
}

// propose offers a candidate and logs a fix when it is applied.
func (c *opContext) propose(path, action string, cand provenance.Candidate) (bool, error) {
	before, err := c.rec.Get(path)
	if err != nil {
		return false, err
	}
	d, err := c.patcher.Propose(path, cand)
	if err != nil {
		return false, err
	}
	if d.Action != provenance.Overwrite {
		return false, nil
	}
	after, _ := c.rec.Get(path)
	var old any
	if record.IsPresent(before) {
		old = before
	}
	c.fixes = append(c.fixes, record.Fix{
		Field:  strings.TrimPrefix(path, "metadata."),
		Action: action,
		Old:    old,
		New:    after,
	})
	return true, nil
}

func source(field string) string {
	return provenance.SourceHarden + ":" + field
}

// stem returns a record file name without directory or extension.
func stem(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
