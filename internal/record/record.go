// Package record defines the canonical per-paper document that flows through
// every pipeline stage.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Record is one extracted paper.
type Record struct {
	Metadata   Metadata   `json:"metadata"`
	Structure  Structure  `json:"structure"`
	Provenance Provenance `json:"provenance"`

	// Derived arrays produced by the extraction stage. Order is irrelevant.
	UMLSLinks  []map[string]any `json:"umls_links,omitempty"`
	Drugs      []map[string]any `json:"drugs,omitempty"`
	TrialIDs   []map[string]any `json:"trial_ids,omitempty"`
	Statistics []map[string]any `json:"statistics,omitempty"`
	CrossRefs  []map[string]any `json:"cross_refs,omitempty"`

	Validation *Validation `json:"validation,omitempty"`

	// Extra holds top-level keys this package does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

// Metadata is the bibliographic part of a record.
type Metadata struct {
	Title    string         `json:"title,omitempty"`
	Year     FlexibleString `json:"year,omitempty"`      // As found
	YearNorm string         `json:"year_norm,omitempty"` // Canonical YYYY
	Authors  AuthorList     `json:"authors,omitempty"`

	Journal     string `json:"journal,omitempty"`      // Abbreviated
	JournalFull string `json:"journal_full,omitempty"` // Canonical full name
	Volume      string `json:"volume,omitempty"`
	Issue       string `json:"issue,omitempty"`
	Pages       string `json:"pages,omitempty"`
	ISSN        string `json:"issn,omitempty"`
	DOI         string `json:"doi,omitempty"`
	URL         string `json:"url,omitempty"`
	Abstract    string `json:"abstract,omitempty"`

	Published PublicationDates `json:"published,omitzero"`

	// Reference views
	ReferencesText     []string         `json:"references_text,omitempty"`
	ReferencesRaw      []map[string]any `json:"references_raw,omitempty"`
	ReferencesStruct   []map[string]any `json:"references_struct,omitempty"`
	ReferencesEnriched []map[string]any `json:"references_enriched,omitempty"`
	ReferencesSource   string           `json:"references_source,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// PublicationDates holds print and online publication dates as found.
type PublicationDates struct {
	Print  string `json:"print,omitempty"`
	Online string `json:"online,omitempty"`
}

// Structure is the document-structure part of a record.
type Structure struct {
	Sections  []Section        `json:"sections,omitempty"`
	Tables    []map[string]any `json:"tables,omitempty"`
	Figures   []map[string]any `json:"figures,omitempty"`
	Citations []map[string]any `json:"citations,omitempty"`
	Counts    map[string]int   `json:"counts,omitempty"`
}

// Section is one titled block of body text.
type Section struct {
	Title      string      `json:"title,omitempty"`
	Category   string      `json:"category,omitempty"`
	Paragraphs []Paragraph `json:"paragraphs,omitempty"`
}

// Text joins the section's paragraphs with blank lines.
func (s Section) Text() string {
	var buf bytes.Buffer
	for _, p := range s.Paragraphs {
		if p.Text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p.Text)
	}
	return buf.String()
}

// Paragraph is a unit of section text. A bare JSON string is accepted.
type Paragraph struct {
	Text string `json:"text"`
}

func (p *Paragraph) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Text = s
		return nil
	}
	type plain Paragraph
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("paragraph: %w", err)
	}
	*p = Paragraph(v)
	return nil
}

// Provenance is the record's change history.
type Provenance struct {
	Patches         []Patch        `json:"patches,omitempty"`
	OrigPDFFilename string         `json:"orig_pdf_filename,omitempty"`
	Zotero          *ExternalMatch `json:"zotero,omitempty"`
}

// ExternalMatch describes the external bibliographic entry a record was linked to.
type ExternalMatch struct {
	Key             string  `json:"key,omitempty"`
	Source          string  `json:"source,omitempty"`
	MatchMethod     string  `json:"match_method"`
	MatchConfidence float64 `json:"match_confidence"`
}

// Validation is the quality block written by the extraction validator and
// extended by the hardener.
type Validation struct {
	Checks            map[string]bool `json:"checks,omitempty"`
	CompletenessScore *int            `json:"completeness_score,omitempty"`
	IsValid           *bool           `json:"is_valid,omitempty"`
	Issues            []string        `json:"issues,omitempty"`
	Warnings          []string        `json:"warnings,omitempty"`
	QualityLevel      string          `json:"quality_level,omitempty"`
	Hardening         *Hardening      `json:"hardening,omitempty"`
}

// Hardening lists the repairs the offline hardener applied.
type Hardening struct {
	Fixes []Fix `json:"fixes"`
}

// Fix is one hardening repair.
type Fix struct {
	Field  string `json:"field"`
	Action string `json:"action"`
	Old    any    `json:"old"`
	New    any    `json:"new"`
}

var recordKeys = []string{
	"metadata", "structure", "provenance",
	"umls_links", "drugs", "trial_ids", "statistics", "cross_refs",
	"validation",
}

var metadataKeys = []string{
	"title", "year", "year_norm", "authors",
	"journal", "journal_full", "volume", "issue", "pages", "issn", "doi", "url", "abstract",
	"published",
	"references_text", "references_raw", "references_struct", "references_enriched", "references_source",
}

func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := leftovers(data, recordKeys)
	if err != nil {
		return err
	}
	*r = Record(p)
	r.Extra = extra
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return withExtra(plain(r), r.Extra)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := leftovers(data, metadataKeys)
	if err != nil {
		return err
	}
	*m = Metadata(p)
	m.Extra = extra
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	type plain Metadata
	return withExtra(plain(m), m.Extra)
}

// leftovers returns the keys of a JSON object not listed in known.
func leftovers(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// withExtra marshals v and merges extra keys into the resulting object.
// Output keys are sorted so identical values serialize identically.
func withExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := obj[k]; !ok {
			obj[k] = raw
		}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(obj[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode serializes a record in the on-disk form: indented, sorted keys,
// trailing newline.
func Encode(r *Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode parses a record.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Clone returns a deep copy made through the JSON encoding.
func (r *Record) Clone() (*Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
