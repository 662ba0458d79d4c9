package harden

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/medparse/medparse/internal/names"
	"github.com/medparse/medparse/internal/pdf"
	"github.com/medparse/medparse/internal/provenance"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/textnorm"
)

func (h *Hardener) fixAuthors(c *opContext) error {
	cur := c.rec.Metadata.Authors
	if len(cur) == 0 {
		return h.authorsFromSections(c)
	}

	out, removed := cleanAuthors(cur)
	action := ActionRestructured
	if removed > 0 {
		action = ActionFiltered
	}
	_, err := c.propose("metadata.authors", action, provenance.Candidate{
		Value:   out,
		Source:  source("authors"),
		Derived: true,
	})
	return err
}

// cleanAuthors parses free-text bylines and drops noise, empty entries and
// repeats, preserving order. It returns the list and how many entries were
// dropped.
func cleanAuthors(cur record.AuthorList) (record.AuthorList, int) {
	var (
		out     record.AuthorList
		removed int
		seen    = make(map[string]bool)
	)
	keep := func(a record.Author) {
		if a.IsEmpty() {
			removed++
			return
		}
		key := authorKey(a)
		if seen[key] {
			removed++
			return
		}
		seen[key] = true
		out = append(out, a)
	}
	for _, a := range cur {
		if a.IsStructured() {
			if names.IsAckLike(a.Name()) {
				removed++
				continue
			}
			keep(a)
			continue
		}
		parts := names.Split(a.Display)
		if len(parts) == 0 {
			removed++
		}
		for _, part := range parts {
			if names.Classify(part) != "" {
				removed++
				continue
			}
			keep(names.Parse(part))
		}
	}
	return out, removed
}

// authorsFromSections fills an empty byline from an author line found in
// the leading sections.
func (h *Hardener) authorsFromSections(c *opContext) error {
	authors, _ := cleanAuthors(bylineFromSections(c.rec.Structure.Sections))
	if len(authors) == 0 {
		return nil
	}
	_, err := c.propose("metadata.authors", ActionFromSections, provenance.Candidate{
		Value:      authors,
		Source:     source("authors"),
		Confidence: ConfidenceFromSections,
	})
	return err
}

// authorSearchDepth bounds how many leading sections may hold a byline.
const authorSearchDepth = 10

// maxBylineChars rejects paragraphs too long to be an author line.
const maxBylineChars = 400

// bylineFromSections returns the first section title or opening line that
// parses as a list of names. The search stops at the abstract, the
// introduction or any other body heading.
func bylineFromSections(sections []record.Section) record.AuthorList {
	for i, s := range sections {
		if i >= authorSearchDepth || isBodyHeading(s) {
			break
		}
		first, _, _ := strings.Cut(s.Text(), "\n")
		for _, line := range []string{s.Title, first} {
			if authors := parseByline(line); len(authors) > 0 {
				return authors
			}
		}
	}
	return nil
}

func isBodyHeading(s record.Section) bool {
	for _, t := range []string{s.Title, s.Category} {
		norm := textnorm.Normalize(t)
		if abstractTitles[norm] || introTitles[norm] || names.Classify(t) == names.NoiseHeader {
			return true
		}
	}
	return false
}

// parseByline accepts a delimited line only when every part that is not
// affiliation noise reads as a personal or group name.
func parseByline(line string) record.AuthorList {
	line = strings.TrimSpace(line)
	if line == "" || len(line) > maxBylineChars {
		return nil
	}
	if !strings.ContainsAny(line, ",;") && !strings.Contains(strings.ToLower(line), " and ") {
		return nil
	}

	var out record.AuthorList
	for _, part := range names.Split(line) {
		if names.Classify(part) != "" {
			continue
		}
		a := names.Parse(part)
		if !a.Group && !looksLikeName(a) {
			return nil
		}
		out = append(out, a)
	}
	return out
}

// looksLikeName requires a capitalized family name and given name or
// initials.
func looksLikeName(a record.Author) bool {
	return startsUpper(a.Family) && startsUpper(a.Given)
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r != utf8.RuneError && unicode.IsUpper(r)
}

func authorKey(a record.Author) string {
	if a.Group || a.Family == "" {
		return "display:" + strings.ToLower(strings.TrimSpace(a.Display))
	}
	return strings.ToLower(strings.TrimSpace(a.Family) + "|" + strings.TrimSpace(a.Given))
}

func (h *Hardener) fixDOI(c *opContext) error {
	if doi := c.rec.Metadata.DOI; record.IsPresent(doi) {
		clean := textnorm.NormalizeDOI(doi)
		if clean == doi || !textnorm.IsValidDOI(clean) {
			return nil
		}
		_, err := c.propose("metadata.doi", ActionCleaned, provenance.Candidate{
			Value:   clean,
			Source:  source("doi"),
			Derived: true,
		})
		return err
	}

	if doi := textnorm.FindDOI(frontMatter(c.rec, h.opts.FrontMatterChars)); doi != "" {
		_, err := c.propose("metadata.doi", ActionFromFrontMatter, provenance.Candidate{
			Value:      doi,
			Source:     source("doi"),
			Confidence: ConfidenceFrontMatter,
		})
		return err
	}

	if !h.opts.PDFs.Enabled() {
		return nil
	}
	path, err := h.opts.PDFs.Resolve(c.rec.Provenance.OrigPDFFilename, stem(c.file)+".pdf")
	if errors.Is(err, pdf.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	doi, err := pdf.ExtractDOI(path, h.opts.PDFPages)
	if err != nil {
		// an unreadable PDF leaves the DOI missing
		c.warnings = append(c.warnings, err.Error())
		return nil
	}
	if doi == "" {
		return nil
	}
	_, err = c.propose("metadata.doi", ActionFromPDF, provenance.Candidate{
		Value:      doi,
		Source:     source("doi"),
		Confidence: ConfidenceFromPDF,
	})
	return err
}

var backMatterTitles = map[string]bool{
	"references":       true,
	"reference":        true,
	"bibliography":     true,
	"literature cited": true,
	"works cited":      true,
}

// frontMatter joins section text up to the reference list, with whitespace
// collapsed, cut to limit bytes.
func frontMatter(rec *record.Record, limit int) string {
	var b strings.Builder
	for _, s := range rec.Structure.Sections {
		if backMatterTitles[textnorm.Normalize(s.Title)] || backMatterTitles[textnorm.Normalize(s.Category)] {
			break
		}
		b.WriteString(s.Title)
		b.WriteByte(' ')
		b.WriteString(s.Text())
		b.WriteByte(' ')
		if b.Len() >= limit {
			break
		}
	}
	text := strings.Join(strings.Fields(b.String()), " ")
	if len(text) > limit {
		text = text[:limit]
	}
	return text
}

var abstractTitles = map[string]bool{
	"abstract": true,
	"summary":  true,
	"overview": true,
	"synopsis": true,
}

var introTitles = map[string]bool{
	"introduction": true,
	"background":   true,
}

// abstractSearchDepth bounds how far into the body an abstract-like
// section is looked for.
const abstractSearchDepth = 6

func (h *Hardener) fixAbstract(c *opContext) error {
	if record.IsPresent(c.rec.Metadata.Abstract) {
		return nil
	}
	sections := c.rec.Structure.Sections

	for i, s := range sections {
		if i >= abstractSearchDepth {
			break
		}
		if !abstractTitles[textnorm.Normalize(s.Title)] {
			continue
		}
		if text := trimWords(s.Text(), h.opts.MaxAbstractChars); text != "" {
			return c.proposeAbstract(ActionFromAbstractSection, text)
		}
	}

	var parts []string
	for _, s := range sections {
		if isIntro(s) {
			if text := s.Text(); text != "" {
				parts = append(parts, text)
			}
			if len(parts) == 2 {
				break
			}
			continue
		}
		if len(parts) > 0 {
			break
		}
	}
	if text := trimWords(strings.Join(parts, "\n\n"), h.opts.MaxAbstractChars); text != "" {
		return c.proposeAbstract(ActionFromSection, text)
	}
	return nil
}

func (c *opContext) proposeAbstract(action, text string) error {
	_, err := c.propose("metadata.abstract", action, provenance.Candidate{
		Value:      text,
		Source:     source("abstract"),
		Confidence: ConfidenceAbstract,
	})
	return err
}

func isIntro(s record.Section) bool {
	return introTitles[textnorm.Normalize(s.Category)] || introTitles[textnorm.Normalize(s.Title)]
}

// trimWords cuts text to at most max bytes, backing up to a word boundary.
func trimWords(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexAny(cut, " \n\t"); i > max/2 {
		cut = cut[:i]
	}
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimRight(cut, " \n\t.,;:")
}
