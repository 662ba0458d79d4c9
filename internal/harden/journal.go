package harden

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"

	"github.com/medparse/medparse/internal/textnorm"
)

// fuzzyMinKeyLen is the shortest normalized key eligible for the
// edit-distance fallback. Short abbreviations are too close to each other.
const fuzzyMinKeyLen = 10

//go:embed journals.yaml
var builtinJournals []byte

// JournalTable resolves journal names and abbreviations to canonical full
// names.
type JournalTable struct {
	byKey map[string]string
	keys  []string // sorted, for deterministic fuzzy matching
}

// NewJournalTable builds a table from canonical name to variants. Every
// canonical name also maps to itself.
func NewJournalTable(synonyms map[string][]string) *JournalTable {
	t := &JournalTable{byKey: make(map[string]string)}
	t.Add(synonyms)
	return t
}

// DefaultJournals returns a table holding the built-in synonyms.
func DefaultJournals() *JournalTable {
	synonyms, err := parseSynonyms(builtinJournals)
	if err != nil {
		panic(fmt.Sprintf("harden: built-in journal table: %v", err))
	}
	return NewJournalTable(synonyms)
}

func parseSynonyms(data []byte) (map[string][]string, error) {
	var synonyms map[string][]string
	if err := yaml.Unmarshal(data, &synonyms); err != nil {
		return nil, err
	}
	return synonyms, nil
}

// Add merges synonyms into the table. Later entries win on conflicting keys.
func (t *JournalTable) Add(synonyms map[string][]string) {
	canonicals := make([]string, 0, len(synonyms))
	for c := range synonyms {
		canonicals = append(canonicals, c)
	}
	sort.Strings(canonicals)
	for _, canonical := range canonicals {
		t.byKey[textnorm.Normalize(canonical)] = canonical
		for _, v := range synonyms[canonical] {
			if k := textnorm.Normalize(v); k != "" {
				t.byKey[k] = canonical
			}
		}
	}
	t.keys = t.keys[:0]
	for k := range t.byKey {
		t.keys = append(t.keys, k)
	}
	sort.Strings(t.keys)
}

// LoadJournalSynonyms reads a YAML file of canonical name to variant list
// and adds it to the built-in table. An empty path returns the built-ins.
func LoadJournalSynonyms(path string) (*JournalTable, error) {
	t := DefaultJournals()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading journal synonyms: %w", err)
	}
	synonyms, err := parseSynonyms(data)
	if err != nil {
		return nil, fmt.Errorf("parsing journal synonyms %s: %w", path, err)
	}
	t.Add(synonyms)
	return t, nil
}

// Lookup returns the canonical name for name. Exact normalized matches come
// first; long names within edit distance 1 of a key also match.
func (t *JournalTable) Lookup(name string) (string, bool) {
	key := textnorm.Normalize(name)
	if key == "" {
		return "", false
	}
	if c, ok := t.byKey[key]; ok {
		return c, true
	}
	if len(key) < fuzzyMinKeyLen {
		return "", false
	}
	for _, k := range t.keys {
		if len(k) < fuzzyMinKeyLen {
			continue
		}
		if levenshtein.ComputeDistance(key, k) <= 1 {
			return t.byKey[k], true
		}
	}
	return "", false
}

// Len returns the number of known keys.
func (t *JournalTable) Len() int {
	return len(t.byKey)
}
