package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Patch operations.
const (
	OpAdd     = "add"
	OpReplace = "replace"
)

// Patch is one logged field mutation.
type Patch struct {
	Path       string  `json:"path"`
	Op         string  `json:"op"`
	From       any     `json:"from"`
	To         any     `json:"to"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	At         string  `json:"at,omitempty"`
}

// fieldPointers maps a patchable path to the address of its value.
var fieldPointers = map[string]func(*Record) any{
	"metadata.title":             func(r *Record) any { return &r.Metadata.Title },
	"metadata.year":              func(r *Record) any { return &r.Metadata.Year },
	"metadata.year_norm":         func(r *Record) any { return &r.Metadata.YearNorm },
	"metadata.authors":           func(r *Record) any { return &r.Metadata.Authors },
	"metadata.journal":           func(r *Record) any { return &r.Metadata.Journal },
	"metadata.journal_full":      func(r *Record) any { return &r.Metadata.JournalFull },
	"metadata.volume":            func(r *Record) any { return &r.Metadata.Volume },
	"metadata.issue":             func(r *Record) any { return &r.Metadata.Issue },
	"metadata.pages":             func(r *Record) any { return &r.Metadata.Pages },
	"metadata.issn":              func(r *Record) any { return &r.Metadata.ISSN },
	"metadata.doi":               func(r *Record) any { return &r.Metadata.DOI },
	"metadata.url":               func(r *Record) any { return &r.Metadata.URL },
	"metadata.abstract":          func(r *Record) any { return &r.Metadata.Abstract },
	"metadata.published":         func(r *Record) any { return &r.Metadata.Published },
	"metadata.references_source": func(r *Record) any { return &r.Metadata.ReferencesSource },
	"provenance.orig_pdf_filename": func(r *Record) any {
		return &r.Provenance.OrigPDFFilename
	},
}

// Paths returns every patchable path in sorted order.
func Paths() []string {
	paths := make([]string, 0, len(fieldPointers))
	for p := range fieldPointers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// MetadataPath returns the patch path for a metadata JSON key.
func MetadataPath(key string) string {
	return "metadata." + key
}

// Get returns the current value at path.
func (r *Record) Get(path string) (any, error) {
	ptr, ok := fieldPointers[path]
	if !ok {
		return nil, fmt.Errorf("unknown field path %q", path)
	}
	return reflect.ValueOf(ptr(r)).Elem().Interface(), nil
}

// Set assigns v at path, converting it to the field's type.
func (r *Record) Set(path string, v any) error {
	ptr, ok := fieldPointers[path]
	if !ok {
		return fmt.Errorf("unknown field path %q", path)
	}
	return assign(ptr(r), v)
}

// Coerce converts v to the type stored at path without touching the record.
func Coerce(path string, v any) (any, error) {
	ptr, ok := fieldPointers[path]
	if !ok {
		return nil, fmt.Errorf("unknown field path %q", path)
	}
	var scratch Record
	target := ptr(&scratch)
	if err := assign(target, v); err != nil {
		return nil, err
	}
	return reflect.ValueOf(target).Elem().Interface(), nil
}

// assign stores v into the value target points to.
func assign(target any, v any) error {
	dst := reflect.ValueOf(target).Elem()
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if src.Type().ConvertibleTo(dst.Type()) && src.Kind() == dst.Kind() {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	dst.Set(reflect.Zero(dst.Type()))
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("converting %s to %s: %w", strings.TrimSpace(string(data)), dst.Type(), err)
	}
	return nil
}

// Equal reports whether two field values encode identically.
func Equal(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Replay applies patches in order to a copy of base.
func Replay(base *Record, patches []Patch) (*Record, error) {
	out, err := base.Clone()
	if err != nil {
		return nil, err
	}
	for i, p := range patches {
		if err := out.Set(p.Path, p.To); err != nil {
			return nil, fmt.Errorf("patch %d (%s): %w", i, p.Path, err)
		}
	}
	return out, nil
}

// LastPatch returns the most recent patch recorded for path.
func (r *Record) LastPatch(path string) (Patch, bool) {
	for i := len(r.Provenance.Patches) - 1; i >= 0; i-- {
		if r.Provenance.Patches[i].Path == path {
			return r.Provenance.Patches[i], true
		}
	}
	return Patch{}, false
}
