// Package dedupe collapses records that share a bibliographic identity to one
// survivor per cluster.
package dedupe

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/medparse/medparse/internal/audit"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/sources"
	"github.com/medparse/medparse/internal/textnorm"
)

// Removal reasons.
const (
	ReasonLowerScore  = "lower completeness score"
	ReasonFewerFields = "fewer populated fields"
	ReasonLaterFile   = "later filename"
)

// Item is one parsed record in the batch.
type Item struct {
	File   string
	Record *record.Record
}

// Removal records why one record lost to its cluster's survivor.
type Removal struct {
	Removed    string `json:"removed"`
	Key        string `json:"key"`
	Survivor   string `json:"survivor"`
	Reason     string `json:"reason"`
	RemovedPDF string `json:"removed_pdf"`
	KeptPDF    string `json:"kept_pdf"`
}

// Plan is the outcome of clustering a batch.
type Plan struct {
	Survivors []string  // sorted
	Removals  []Removal // sorted by key, then removed file
	Clusters  int       // clusters with more than one member
}

// Removed reports whether file lost a comparison.
func (p Plan) Removed(file string) bool {
	for _, r := range p.Removals {
		if r.Removed == file {
			return true
		}
	}
	return false
}

type candidate struct {
	file      string
	pdf       string
	score     int
	populated int
}

// DOIKey is the identity of a record with a DOI.
func DOIKey(doi string) string {
	return "doi:" + textnorm.NormalizeDOI(doi)
}

// TitleKey is the title|year composite identity, or "" when the record has
// no usable title.
func TitleKey(rec *record.Record) string {
	if !record.IsPresent(rec.Metadata.Title) {
		return ""
	}
	title := textnorm.Normalize(rec.Metadata.Title)
	if title == "" {
		return ""
	}
	year := ""
	if y := sources.RecordYear(rec); y > 0 {
		year = strconv.Itoa(y)
	}
	return "title:" + title + "|" + year
}

// Build clusters items and picks one survivor per cluster. Records with
// neither a DOI nor a title always survive.
func Build(items []Item) Plan {
	clusters := make(map[string][]candidate)
	doiByTitle := make(map[string][]string)
	var survivors []string

	for _, it := range items {
		doi := textnorm.NormalizeDOI(it.Record.Metadata.DOI)
		if !record.IsPresent(doi) {
			continue
		}
		key := DOIKey(doi)
		clusters[key] = append(clusters[key], newCandidate(it))
		if tk := TitleKey(it.Record); tk != "" {
			doiByTitle[tk] = append(doiByTitle[tk], key)
		}
	}
	for tk, keys := range doiByTitle {
		sort.Strings(keys)
		doiByTitle[tk] = keys
	}

	for _, it := range items {
		if record.IsPresent(textnorm.NormalizeDOI(it.Record.Metadata.DOI)) {
			continue
		}
		tk := TitleKey(it.Record)
		if tk == "" {
			survivors = append(survivors, it.File)
			continue
		}
		key := tk
		if keys := doiByTitle[tk]; len(keys) > 0 {
			key = keys[0]
		}
		clusters[key] = append(clusters[key], newCandidate(it))
	}

	var plan Plan
	for key, members := range clusters {
		sort.Slice(members, func(i, j int) bool { return better(members[i], members[j]) })
		keep := members[0]
		survivors = append(survivors, keep.file)
		if len(members) > 1 {
			plan.Clusters++
		}
		for _, lost := range members[1:] {
			plan.Removals = append(plan.Removals, Removal{
				Removed:    lost.file,
				Key:        key,
				Survivor:   keep.file,
				Reason:     reason(keep, lost),
				RemovedPDF: lost.pdf,
				KeptPDF:    keep.pdf,
			})
		}
	}

	sort.Strings(survivors)
	plan.Survivors = survivors
	sort.Slice(plan.Removals, func(i, j int) bool {
		a, b := plan.Removals[i], plan.Removals[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Removed < b.Removed
	})
	return plan
}

func newCandidate(it Item) candidate {
	return candidate{
		file:      it.File,
		pdf:       it.Record.Provenance.OrigPDFFilename,
		score:     CompletenessScore(it.Record),
		populated: PopulatedFields(it.Record),
	}
}

// better orders candidates best first: score, populated fields, filename.
func better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.populated != b.populated {
		return a.populated > b.populated
	}
	return a.file < b.file
}

func reason(keep, lost candidate) string {
	switch {
	case keep.score != lost.score:
		return ReasonLowerScore
	case keep.populated != lost.populated:
		return ReasonFewerFields
	default:
		return ReasonLaterFile
	}
}

// CompletenessScore returns the validator's score when the record carries
// one and the audit score otherwise.
func CompletenessScore(rec *record.Record) int {
	if rec.Validation != nil && rec.Validation.CompletenessScore != nil {
		return *rec.Validation.CompletenessScore
	}
	score, _ := audit.Score(rec)
	return score
}

// PopulatedFields counts present top-level keys, looking one level into
// metadata so bibliographic completeness is not a single key.
func PopulatedFields(rec *record.Record) int {
	data, err := record.Encode(rec)
	if err != nil {
		return 0
	}
	var top map[string]any
	if err := json.Unmarshal(data, &top); err != nil {
		return 0
	}
	n := 0
	for k, v := range top {
		if k == "metadata" {
			if md, ok := v.(map[string]any); ok {
				for _, mv := range md {
					if record.IsPresent(mv) {
						n++
					}
				}
			}
			continue
		}
		if record.IsPresent(v) {
			n++
		}
	}
	return n
}
