package crossref

import (
	"strconv"
	"strings"
)

// Query is one bibliographic lookup.
type Query struct {
	Title  string
	Author string // first author's family name
	Year   int    // 0 means unknown
}

// Signature is a canonical string identifying the request, used as the
// cache key input.
func (q Query) Signature() string {
	return strings.Join([]string{
		"works",
		strings.ToLower(strings.TrimSpace(q.Title)),
		strings.ToLower(strings.TrimSpace(q.Author)),
		strconv.Itoa(q.Year),
	}, "\x1f")
}

// Work is the subset of a Crossref work record used for enrichment.
type Work struct {
	DOI                 string    `json:"DOI"`
	Title               []string  `json:"title"`
	Author              []Author  `json:"author"`
	ContainerTitle      []string  `json:"container-title"`
	ShortContainerTitle []string  `json:"short-container-title"`
	Volume              string    `json:"volume"`
	Issue               string    `json:"issue"`
	Page                string    `json:"page"`
	ISSN                []string  `json:"ISSN"`
	URL                 string    `json:"URL"`
	Issued              DateParts `json:"issued"`
	PublishedPrint      DateParts `json:"published-print"`
	PublishedOnline     DateParts `json:"published-online"`
	Score               float64   `json:"score"`
}

// Author is a Crossref contributor.
type Author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"` // organizational authors
}

// DateParts is Crossref's nested date form: {"date-parts": [[2017, 10, 2]]}.
type DateParts struct {
	Parts [][]int `json:"date-parts"`
}

// Year returns the first year component, or 0.
func (d DateParts) Year() int {
	if len(d.Parts) == 0 || len(d.Parts[0]) == 0 {
		return 0
	}
	return d.Parts[0][0]
}

// Date formats the parts as YYYY, YYYY-MM or YYYY-MM-DD.
func (d DateParts) Date() string {
	if len(d.Parts) == 0 || len(d.Parts[0]) == 0 || d.Parts[0][0] == 0 {
		return ""
	}
	p := d.Parts[0]
	s := strconv.Itoa(p[0])
	for _, n := range p[1:] {
		if n < 10 {
			s += "-0" + strconv.Itoa(n)
		} else {
			s += "-" + strconv.Itoa(n)
		}
	}
	return s
}

// PrimaryTitle returns the first title.
func (w Work) PrimaryTitle() string {
	if len(w.Title) == 0 {
		return ""
	}
	return w.Title[0]
}

// Year returns the issued year, falling back to print and online dates.
func (w Work) Year() int {
	for _, d := range []DateParts{w.Issued, w.PublishedPrint, w.PublishedOnline} {
		if y := d.Year(); y > 0 {
			return y
		}
	}
	return 0
}

// FirstAuthorFamily returns the first personal author's family name.
func (w Work) FirstAuthorFamily() string {
	for _, a := range w.Author {
		if a.Family != "" {
			return a.Family
		}
	}
	return ""
}

// workList is the /works response envelope.
type workList struct {
	Status  string `json:"status"`
	Message struct {
		TotalResults int    `json:"total-results"`
		Items        []Work `json:"items"`
	} `json:"message"`
}
