package sources

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/medparse/medparse/internal/record"
)

// CSV column names as written by a Zotero CSV export. Lookup is
// case-insensitive and the first matching alias wins.
var csvColumns = map[string][]string{
	"key":      {"Key", "ID"},
	"year":     {"Publication Year", "Year"},
	"author":   {"Author", "Authors"},
	"title":    {"Title"},
	"journal":  {"Journal Abbreviation"},
	"full":     {"Publication Title", "Journal"},
	"issn":     {"ISSN"},
	"doi":      {"DOI"},
	"url":      {"Url", "URL"},
	"abstract": {"Abstract Note", "Abstract"},
	"pages":    {"Pages"},
	"issue":    {"Issue"},
	"volume":   {"Volume"},
	"files":    {"File Attachments"},
}

// LoadCSV reads a CSV index file.
func LoadCSV(path string) ([]Entry, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening CSV index %s: %w", path, err)
	}
	defer f.Close()
	entries, errs, err := ParseCSV(f, "csv:"+baseName(path))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, errs, nil
}

// ParseCSV parses a CSV index with a header row.
func ParseCSV(r io.Reader, origin string) ([]Entry, []error, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading CSV header: %w", err)
	}
	cols := resolveColumns(header)
	if _, ok := cols["key"]; !ok {
		if _, ok := cols["title"]; !ok {
			return nil, nil, fmt.Errorf("CSV header has neither a Key nor a Title column")
		}
	}

	var entries []Entry
	var errs []error
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		e := Entry{
			Key:         get("key"),
			DOI:         get("doi"),
			Title:       get("title"),
			Authors:     parseAuthorField(get("author")),
			Year:        FirstYear(get("year")),
			Journal:     get("journal"),
			JournalFull: get("full"),
			Volume:      get("volume"),
			Issue:       get("issue"),
			Pages:       get("pages"),
			ISSN:        get("issn"),
			URL:         get("url"),
			Abstract:    get("abstract"),
			PDFs:        pdfNames(get("files")),
			Origin:      origin,
		}
		if e.Key == "" && e.Title == "" && e.DOI == "" {
			errs = append(errs, fmt.Errorf("line %d: row has no key, title or DOI", line))
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs, nil
}

func resolveColumns(header []string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		pos[strings.ToLower(h)] = i
	}
	cols := make(map[string]int)
	for name, aliases := range csvColumns {
		for _, a := range aliases {
			if i, ok := pos[strings.ToLower(a)]; ok {
				cols[name] = i
				break
			}
		}
	}
	return cols
}

// parseAuthorField splits "Family, Given; Family, Given".
func parseAuthorField(s string) []record.Author {
	if s == "" {
		return nil
	}
	var out []record.Author
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		family, given, found := strings.Cut(part, ",")
		if !found {
			out = append(out, record.Author{Display: part, Group: true})
			continue
		}
		family = strings.TrimSpace(family)
		given = strings.TrimSpace(given)
		out = append(out, record.Author{
			Given:   given,
			Family:  family,
			Display: strings.TrimSpace(given + " " + family),
		})
	}
	return out
}

// pdfNames returns the basenames of the PDF paths in a ";"-separated list.
func pdfNames(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		p = strings.TrimSpace(p)
		if p == "" || !strings.HasSuffix(strings.ToLower(p), ".pdf") {
			continue
		}
		out = append(out, baseName(p))
	}
	return out
}

// baseName handles both slash styles, since exports come from any OS.
func baseName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return filepath.Base(p)
}
