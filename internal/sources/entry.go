// Package sources loads external bibliographic collections (CSL-JSON exports,
// CSV indexes) and manual override files.
package sources

import (
	"strconv"

	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/textnorm"
)

// Entry is one external bibliographic item.
type Entry struct {
	Key         string          `json:"key"`
	DOI         string          `json:"doi,omitempty"`
	Title       string          `json:"title,omitempty"`
	Authors     []record.Author `json:"authors,omitempty"`
	Year        int             `json:"year,omitempty"`
	Journal     string          `json:"journal,omitempty"`      // Abbreviated
	JournalFull string          `json:"journal_full,omitempty"` // Container title
	Volume      string          `json:"volume,omitempty"`
	Issue       string          `json:"issue,omitempty"`
	Pages       string          `json:"pages,omitempty"`
	ISSN        string          `json:"issn,omitempty"`
	URL         string          `json:"url,omitempty"`
	Abstract    string          `json:"abstract,omitempty"`
	PDFs        []string        `json:"pdfs,omitempty"` // Attachment basenames

	Origin string `json:"origin"` // Collection the entry came from
}

// Fields returns the entry's values keyed by record metadata path, in a
// fixed order. Empty values are included; the patcher skips them.
func (e Entry) Fields() []Field {
	var year any
	var yearNorm string
	if e.Year > 0 {
		year = e.Year
		yearNorm = strconv.Itoa(e.Year)
	}
	return []Field{
		{"metadata.doi", textnorm.NormalizeDOI(e.DOI)},
		{"metadata.title", e.Title},
		{"metadata.authors", e.Authors},
		{"metadata.year", year},
		{"metadata.year_norm", yearNorm},
		{"metadata.journal", e.Journal},
		{"metadata.journal_full", e.JournalFull},
		{"metadata.volume", e.Volume},
		{"metadata.issue", e.Issue},
		{"metadata.pages", e.Pages},
		{"metadata.issn", e.ISSN},
		{"metadata.url", e.URL},
		{"metadata.abstract", e.Abstract},
	}
}

// Field is a path and a candidate value.
type Field struct {
	Path  string
	Value any
}

// Index holds every loaded entry in load order with lookup tables.
type Index struct {
	entries []Entry
	byDOI   map[string]int
	byTitle map[string][]int
	byKey   map[string]int
}

// NewIndex builds an index over collections in the given order. Entries that
// share a key are merged: the first occurrence keeps its values, later ones
// fill empty fields and contribute PDF names.
func NewIndex(collections ...[]Entry) *Index {
	ix := &Index{
		byDOI:   make(map[string]int),
		byTitle: make(map[string][]int),
		byKey:   make(map[string]int),
	}
	for _, coll := range collections {
		for _, e := range coll {
			if e.Key != "" {
				if i, ok := ix.byKey[e.Key]; ok {
					ix.entries[i] = mergeEntry(ix.entries[i], e)
					ix.indexEntry(i)
					continue
				}
			}
			ix.entries = append(ix.entries, e)
			i := len(ix.entries) - 1
			if e.Key != "" {
				ix.byKey[e.Key] = i
			}
			ix.indexEntry(i)
		}
	}
	return ix
}

func (ix *Index) indexEntry(i int) {
	e := ix.entries[i]
	if doi := textnorm.NormalizeDOI(e.DOI); doi != "" {
		if _, ok := ix.byDOI[doi]; !ok {
			ix.byDOI[doi] = i
		}
	}
	if t := textnorm.Normalize(e.Title); t != "" {
		for _, j := range ix.byTitle[t] {
			if j == i {
				return
			}
		}
		ix.byTitle[t] = append(ix.byTitle[t], i)
	}
}

func mergeEntry(dst, src Entry) Entry {
	fill := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fill(&dst.DOI, src.DOI)
	fill(&dst.Title, src.Title)
	fill(&dst.Journal, src.Journal)
	fill(&dst.JournalFull, src.JournalFull)
	fill(&dst.Volume, src.Volume)
	fill(&dst.Issue, src.Issue)
	fill(&dst.Pages, src.Pages)
	fill(&dst.ISSN, src.ISSN)
	fill(&dst.URL, src.URL)
	fill(&dst.Abstract, src.Abstract)
	if len(dst.Authors) == 0 {
		dst.Authors = src.Authors
	}
	if dst.Year == 0 {
		dst.Year = src.Year
	}
	seen := make(map[string]bool, len(dst.PDFs))
	for _, p := range dst.PDFs {
		seen[p] = true
	}
	for _, p := range src.PDFs {
		if !seen[p] {
			dst.PDFs = append(dst.PDFs, p)
			seen[p] = true
		}
	}
	return dst
}

// Len returns the number of distinct entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Entries returns all entries in load order.
func (ix *Index) Entries() []Entry {
	return ix.entries
}

// ByDOI returns the first entry with the given DOI (any format).
func (ix *Index) ByDOI(doi string) (Entry, bool) {
	i, ok := ix.byDOI[textnorm.NormalizeDOI(doi)]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[i], true
}

// ByTitle returns entries whose normalized title equals title's, in load order.
func (ix *Index) ByTitle(title string) []Entry {
	var out []Entry
	for _, i := range ix.byTitle[textnorm.Normalize(title)] {
		out = append(out, ix.entries[i])
	}
	return out
}

// ByKey returns the entry with the given collection key.
func (ix *Index) ByKey(key string) (Entry, bool) {
	i, ok := ix.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[i], true
}
