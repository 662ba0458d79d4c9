package sources

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/textnorm"
)

// ErrInvalidOverrides indicates an override file that does not match the
// expected schema. It is a configuration error and aborts the stage.
var ErrInvalidOverrides = errors.New("invalid override file")

// Override is a partial set of field values forced onto one record.
type Override struct {
	// Match forces the record to link to a specific external entry.
	Match *OverrideMatch `json:"match,omitempty"`

	Title       string                `json:"title,omitempty"`
	Year        record.FlexibleString `json:"year,omitempty"`
	Authors     []record.Author       `json:"authors,omitempty"`
	Journal     string                `json:"journal,omitempty"`
	JournalFull string                `json:"journal_full,omitempty"`
	Volume      string                `json:"volume,omitempty"`
	Issue       string                `json:"issue,omitempty"`
	Pages       string                `json:"pages,omitempty"`
	ISSN        string                `json:"issn,omitempty"`
	DOI         string                `json:"doi,omitempty"`
	URL         string                `json:"url,omitempty"`
	Abstract    string                `json:"abstract,omitempty"`
}

// OverrideMatch names an external entry by DOI or collection key.
type OverrideMatch struct {
	DOI string `json:"doi,omitempty"`
	Key string `json:"key,omitempty"`
}

// UnmarshalJSON accepts a full object, or a bare string naming the entry
// to match (a DOI when it looks like one, otherwise a key).
func (o *Override) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return fmt.Errorf("empty override")
		}
		if doi := textnorm.NormalizeDOI(s); textnorm.IsValidDOI(doi) {
			*o = Override{Match: &OverrideMatch{DOI: doi}}
		} else {
			*o = Override{Match: &OverrideMatch{Key: s}}
		}
		return nil
	}

	type plain Override
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*o = Override(p)
	return nil
}

// Fields returns the override's values keyed by record path, skipping
// unset ones.
func (o Override) Fields() []Field {
	var out []Field
	add := func(path string, v any, present bool) {
		if present {
			out = append(out, Field{path, v})
		}
	}
	add("metadata.doi", textnorm.NormalizeDOI(o.DOI), o.DOI != "")
	add("metadata.title", o.Title, o.Title != "")
	add("metadata.authors", o.Authors, len(o.Authors) > 0)
	add("metadata.year", o.Year, o.Year != "")
	if y := FirstYear(o.Year.String()); y > 0 {
		add("metadata.year_norm", strconv.Itoa(y), true)
	}
	add("metadata.journal", o.Journal, o.Journal != "")
	add("metadata.journal_full", o.JournalFull, o.JournalFull != "")
	add("metadata.volume", o.Volume, o.Volume != "")
	add("metadata.issue", o.Issue, o.Issue != "")
	add("metadata.pages", o.Pages, o.Pages != "")
	add("metadata.issn", o.ISSN, o.ISSN != "")
	add("metadata.url", o.URL, o.URL != "")
	add("metadata.abstract", o.Abstract, o.Abstract != "")
	return out
}

// Overrides holds manual overrides keyed by filename and by normalized title.
type Overrides struct {
	ByFilename map[string]Override
	ByTitle    map[string]Override
}

// Len returns the number of override entries.
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	return len(o.ByFilename) + len(o.ByTitle)
}

// For returns the override for a record file. Filename keys may name the
// record JSON, the source PDF, or the bare stem.
func (o *Overrides) For(filename, pdfName, title string) (Override, bool) {
	if o == nil {
		return Override{}, false
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	for _, k := range []string{filename, pdfName, stem, stem + ".pdf"} {
		if k == "" {
			continue
		}
		if ov, ok := o.ByFilename[k]; ok {
			return ov, true
		}
	}
	if t := textnorm.Normalize(title); t != "" {
		if ov, ok := o.ByTitle[t]; ok {
			return ov, true
		}
	}
	return Override{}, false
}

// LoadOverrides reads an override file. An empty path yields no overrides.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return &Overrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidOverrides, path, err)
	}
	ov, err := ParseOverrides(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ov, nil
}

// ParseOverrides parses either {"file": override, ...} or
// {"by_filename": {...}, "by_title": {...}}.
func ParseOverrides(data []byte) (*Overrides, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: top level must be a JSON object: %v", ErrInvalidOverrides, err)
	}

	out := &Overrides{
		ByFilename: make(map[string]Override),
		ByTitle:    make(map[string]Override),
	}

	_, hasFiles := top["by_filename"]
	_, hasTitles := top["by_title"]
	if hasFiles || hasTitles {
		for k := range top {
			if k != "by_filename" && k != "by_title" {
				return nil, fmt.Errorf("%w: unexpected top-level key %q", ErrInvalidOverrides, k)
			}
		}
		if err := decodeOverrideMap(top["by_filename"], out.ByFilename, false); err != nil {
			return nil, err
		}
		if err := decodeOverrideMap(top["by_title"], out.ByTitle, true); err != nil {
			return nil, err
		}
		return out, nil
	}

	for k, raw := range top {
		ov, err := decodeOverride(k, raw)
		if err != nil {
			return nil, err
		}
		out.ByFilename[k] = ov
	}
	return out, nil
}

func decodeOverrideMap(raw json.RawMessage, into map[string]Override, byTitle bool) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%w: section must be an object: %v", ErrInvalidOverrides, err)
	}
	for k, v := range m {
		ov, err := decodeOverride(k, v)
		if err != nil {
			return err
		}
		if byTitle {
			k = textnorm.Normalize(k)
		}
		into[k] = ov
	}
	return nil
}

func decodeOverride(key string, raw json.RawMessage) (Override, error) {
	var ov Override
	if err := json.Unmarshal(raw, &ov); err != nil {
		return Override{}, fmt.Errorf("%w: entry %q: %v", ErrInvalidOverrides, key, err)
	}
	return ov, nil
}
