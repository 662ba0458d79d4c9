package sources

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/medparse/medparse/internal/record"
)

// CSLEntry represents a single item of a CSL-JSON export. Several CSL
// fields may be either a string or an array of strings.
type CSLEntry struct {
	ID                  record.FlexibleString `json:"id"`
	DOI                 string                `json:"DOI"`
	Title               json.RawMessage       `json:"title"`
	ContainerTitle      json.RawMessage       `json:"container-title"`
	ContainerTitleShort json.RawMessage       `json:"container-title-short"`
	JournalAbbreviation string                `json:"journalAbbreviation"`
	Volume              record.FlexibleString `json:"volume"`
	Issue               record.FlexibleString `json:"issue"`
	Page                record.FlexibleString `json:"page"`
	ISSN                json.RawMessage       `json:"ISSN"`
	URL                 string                `json:"URL"`
	Abstract            string                `json:"abstract"`
	Issued              *CSLDate              `json:"issued"`
	Author              []CSLName             `json:"author"`
	File                json.RawMessage       `json:"file"`
}

// CSLName is a CSL name variable.
type CSLName struct {
	Given   string `json:"given"`
	Family  string `json:"family"`
	Literal string `json:"literal"`
	Suffix  string `json:"suffix"`
}

// CSLDate is a CSL date variable.
type CSLDate struct {
	DateParts [][]record.FlexibleString `json:"date-parts"`
	Raw       string                    `json:"raw"`
	Literal   string                    `json:"literal"`
}

// Year returns the first year in the date, or 0.
func (d *CSLDate) Year() int {
	if d == nil {
		return 0
	}
	if len(d.DateParts) > 0 && len(d.DateParts[0]) > 0 {
		if y := d.DateParts[0][0].Int(); y > 0 {
			return y
		}
	}
	for _, s := range []string{d.Raw, d.Literal} {
		if y := FirstYear(s); y > 0 {
			return y
		}
	}
	return 0
}

// LoadCSL reads a CSL-JSON file. Unreadable or non-array files are fatal;
// individual bad entries are returned as errors alongside the good ones.
func LoadCSL(path string) ([]Entry, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading CSL-JSON %s: %w", path, err)
	}
	entries, errs, err := ParseCSL(data, "csl:"+baseName(path))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, errs, nil
}

// ParseCSL parses a CSL-JSON array.
func ParseCSL(data []byte, origin string) ([]Entry, []error, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing CSL-JSON: %w", err)
	}

	var entries []Entry
	var errs []error
	for i, item := range raw {
		var c CSLEntry
		if err := json.Unmarshal(item, &c); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i+1, err))
			continue
		}
		e, err := cslToEntry(c, origin)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", i+1, c.ID, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs, nil
}

func cslToEntry(c CSLEntry, origin string) (Entry, error) {
	title := flatten(c.Title)
	if title == "" && c.DOI == "" {
		return Entry{}, fmt.Errorf("entry has neither title nor DOI")
	}

	authors := make([]record.Author, 0, len(c.Author))
	for _, a := range c.Author {
		switch {
		case a.Family != "" || a.Given != "":
			authors = append(authors, record.Author{
				Given:   strings.TrimSpace(a.Given),
				Family:  strings.TrimSpace(a.Family),
				Suffix:  strings.TrimSpace(a.Suffix),
				Display: strings.TrimSpace(a.Given + " " + a.Family),
			})
		case a.Literal != "":
			authors = append(authors, record.Author{Display: a.Literal, Group: true})
		}
	}

	short := c.JournalAbbreviation
	if short == "" {
		short = flatten(c.ContainerTitleShort)
	}

	key := c.ID.String()
	return Entry{
		Key:         key,
		DOI:         strings.TrimSpace(c.DOI),
		Title:       title,
		Authors:     authors,
		Year:        c.Issued.Year(),
		Journal:     short,
		JournalFull: flatten(c.ContainerTitle),
		Volume:      c.Volume.String(),
		Issue:       c.Issue.String(),
		Pages:       c.Page.String(),
		ISSN:        flatten(c.ISSN),
		URL:         c.URL,
		Abstract:    strings.TrimSpace(c.Abstract),
		PDFs:        pdfNames(flatten(c.File)),
		Origin:      origin,
	}, nil
}

// flatten returns a CSL string-or-array value as a single string. Arrays
// yield their first non-empty element.
func flatten(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				return item
			}
		}
	}
	return ""
}

// RecordYear returns the record's normalized year, falling back to the raw one.
func RecordYear(r *record.Record) int {
	if y, err := strconv.Atoi(strings.TrimSpace(r.Metadata.YearNorm)); err == nil && y > 0 {
		return y
	}
	return FirstYear(r.Metadata.Year.String())
}

// FirstYear returns the first plausible 4-digit year (1800-2099) in s, or 0.
func FirstYear(s string) int {
	for i := 0; i+4 <= len(s); i++ {
		if i > 0 && isDigit(s[i-1]) {
			continue
		}
		chunk := s[i : i+4]
		if i+4 < len(s) && isDigit(s[i+4]) {
			continue
		}
		y, err := strconv.Atoi(chunk)
		if err == nil && y >= 1800 && y <= 2099 {
			return y
		}
	}
	return 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
