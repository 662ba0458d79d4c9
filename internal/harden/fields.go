package harden

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/medparse/medparse/internal/provenance"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/sources"
)

// Fix actions.
const (
	ActionFromFilename        = "from_filename"
	ActionNormalized          = "normalized"
	ActionFromPublished       = "from_published"
	ActionFiltered            = "filtered"
	ActionRestructured        = "restructured"
	ActionCleaned             = "cleaned"
	ActionFromFrontMatter     = "from_front_matter"
	ActionFromPDF             = "from_pdf"
	ActionCanonicalized       = "canonicalized"
	ActionFromAbstractSection = "backfill_from_abstract_section"
	ActionFromSection         = "backfill_from_section"
	ActionFromSections        = "from_sections"
)

var slugSeparators = regexp.MustCompile(`[_\-.]+`)

var titleCaser = cases.Title(language.English)

func (h *Hardener) fixTitle(c *opContext) error {
	if record.IsPresent(c.rec.Metadata.Title) {
		return nil
	}
	title := strings.Join(strings.Fields(slugSeparators.ReplaceAllString(stem(c.file), " ")), " ")
	if title == "" {
		return nil
	}
	_, err := c.propose("metadata.title", ActionFromFilename, provenance.Candidate{
		Value:      titleCaser.String(title),
		Source:     source("title"),
		Confidence: ConfidenceFromFilename,
	})
	return err
}

var canonicalYear = regexp.MustCompile(`^\d{4}$`)

func (h *Hardener) fixYear(c *opContext) error {
	m := c.rec.Metadata
	if canonicalYear.MatchString(strings.TrimSpace(m.YearNorm)) {
		return nil
	}
	// a malformed year_norm is repaired in place
	repair := record.IsPresent(m.YearNorm)

	type attempt struct {
		raw        string
		action     string
		confidence float64
	}
	attempts := []attempt{
		{m.Year.String(), ActionNormalized, ConfidenceYearParsed},
		{m.YearNorm, ActionNormalized, ConfidenceYearParsed},
		{m.Published.Print, ActionFromPublished, ConfidenceFromPublished},
		{m.Published.Online, ActionFromPublished, ConfidenceFromPublished},
		{stem(c.file), ActionFromFilename, ConfidenceFromFilename},
	}
	for _, a := range attempts {
		y := parseYear(a.raw, a.action == ActionFromFilename)
		if y == 0 {
			continue
		}
		_, err := c.propose("metadata.year_norm", a.action, provenance.Candidate{
			Value:      strconv.Itoa(y),
			Source:     source("year_norm"),
			Confidence: a.confidence,
			Derived:    repair,
		})
		return err
	}
	return nil
}

// parseYear scans for a 4-digit year, then tries full date parsing.
// Filenames only get the scan.
func parseYear(raw string, scanOnly bool) int {
	raw = strings.TrimSpace(raw)
	if !record.IsPresent(raw) {
		return 0
	}
	if y := sources.FirstYear(raw); y > 0 {
		return y
	}
	if scanOnly {
		return 0
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return 0
	}
	if y := t.Year(); y >= 1800 && y <= 2099 {
		return y
	}
	return 0
}

func (h *Hardener) fixJournal(c *opContext) error {
	m := c.rec.Metadata
	canonical := ""
	for _, name := range []string{m.Journal, m.JournalFull} {
		if !record.IsPresent(name) {
			continue
		}
		if full, ok := h.opts.Journals.Lookup(name); ok {
			canonical = full
			break
		}
	}
	if canonical == "" {
		return nil
	}

	// a new journal_full inherits the confidence of the journal it came from
	st, err := c.patcher.State("metadata.journal")
	if err != nil {
		return err
	}
	conf := st.Confidence
	if !st.Present {
		conf = h.opts.BaseConfidence
	}
	_, err = c.propose("metadata.journal_full", ActionCanonicalized, provenance.Candidate{
		Value:      canonical,
		Source:     source("journal_full"),
		Confidence: conf,
		Derived:    true,
	})
	return err
}
