package merge

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medparse/medparse/internal/provenance"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/sources"
)

func fixedClock() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

var testEntries = []sources.Entry{
	{
		Key:     "EGDT",
		DOI:     "10.1001/jama.2017.17426",
		Title:   "Early Goal-Directed Therapy in Septic Shock",
		Year:    2017,
		Journal: "JAMA",
		Volume:  "318",
		PDFs:    []string{"egdt.pdf"},
		Origin:  "library.json",
	},
	{
		Key:     "ARDS",
		DOI:     "10.1056/NEJMoa1703058",
		Title:   "Prone Positioning in Severe Acute Respiratory Distress Syndrome",
		Year:    2013,
		Authors: []record.Author{{Given: "C", Family: "Guérin"}, {Given: "J", Family: "Reignier"}, {Given: "J", Family: "Richard"}},
		Origin:  "library.json",
	},
}

func newTestMerger(t *testing.T, ov *sources.Overrides) *Merger {
	t.Helper()
	ix := sources.NewIndex(testEntries)
	return New(NewMatcher(ix, DefaultFuzzyThreshold), ov, WithClock(fixedClock))
}

func patchesFor(patches []record.Patch, path string) []record.Patch {
	var out []record.Patch
	for _, p := range patches {
		if p.Path == path {
			out = append(out, p)
		}
	}
	return out
}

func TestApply_FillsDOIFromTitleMatch(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Early goal-directed therapy in septic shock"
	rec.Metadata.DOI = ""

	res, err := newTestMerger(t, nil).Apply("egdt.json", rec)
	require.NoError(t, err)

	assert.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, MethodTitleExact, res.Method)
	assert.Equal(t, "10.1001/jama.2017.17426", rec.Metadata.DOI)

	doiPatches := patchesFor(rec.Provenance.Patches, "metadata.doi")
	require.Len(t, doiPatches, 1)
	assert.Equal(t, "merge:title_exact", doiPatches[0].Source)
	assert.Equal(t, ConfidenceTitleExact, doiPatches[0].Confidence)
	assert.Equal(t, record.OpAdd, doiPatches[0].Op)

	require.NotNil(t, rec.Provenance.Zotero)
	assert.Equal(t, "EGDT", rec.Provenance.Zotero.Key)
	assert.Equal(t, MethodTitleExact, rec.Provenance.Zotero.MatchMethod)
	assert.Equal(t, "egdt.pdf", rec.Provenance.OrigPDFFilename)
	assert.Equal(t, "2017", rec.Metadata.YearNorm)
}

func TestMatcher_Cascade(t *testing.T) {
	m := NewMatcher(sources.NewIndex(testEntries), DefaultFuzzyThreshold)

	tests := []struct {
		name   string
		rec    func(*record.Record)
		method string
		key    string
	}{
		{
			name: "doi beats title",
			rec: func(r *record.Record) {
				r.Metadata.DOI = "https://doi.org/10.1056/nejmoa1703058"
				r.Metadata.Title = testEntries[0].Title
			},
			method: MethodDOI,
			key:    "ARDS",
		},
		{
			name:   "exact title",
			rec:    func(r *record.Record) { r.Metadata.Title = "PRONE positioning in severe acute respiratory-distress syndrome." },
			method: MethodTitleExact,
			key:    "ARDS",
		},
		{
			name:   "fuzzy title",
			rec:    func(r *record.Record) { r.Metadata.Title = "Early goal directed therapy in septic shock patients" },
			method: MethodTitleFuzzy,
			key:    "EGDT",
		},
		{
			name: "author and year",
			rec: func(r *record.Record) {
				r.Metadata.Title = "Unrelated heading"
				r.Metadata.Year = "2013"
				r.Metadata.Authors = record.AuthorList{{Family: "Guerin"}, {Display: "Richard J"}}
			},
			method: MethodAuthorYear,
			key:    "ARDS",
		},
		{
			name: "author but wrong year",
			rec: func(r *record.Record) {
				r.Metadata.Year = "2014"
				r.Metadata.Authors = record.AuthorList{{Family: "Guerin"}}
			},
		},
		{
			name: "surname not in entry",
			rec: func(r *record.Record) {
				r.Metadata.Year = "2013"
				r.Metadata.Authors = record.AuthorList{{Family: "Guerin"}, {Family: "Smith"}}
			},
		},
		{name: "nothing to match on", rec: func(*record.Record) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &record.Record{}
			tt.rec(rec)
			got, ok := m.Match(rec)
			if tt.method == "" {
				assert.False(t, ok, "unexpected match %+v", got)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.method, got.Method)
			assert.Equal(t, tt.key, got.Entry.Key)
		})
	}
}

func TestMatcher_FuzzyConfidenceAndThreshold(t *testing.T) {
	m := NewMatcher(sources.NewIndex(testEntries), DefaultFuzzyThreshold)
	rec := &record.Record{}
	rec.Metadata.Title = "Early goal directed therapy in septic shock patients"

	got, ok := m.Match(rec)
	require.True(t, ok)
	assert.InDelta(t, 7.0/8.0, got.Score, 1e-9)
	assert.InDelta(t, 0.8875, got.Confidence, 1e-9)
	assert.Less(t, got.Confidence, ConfidenceTitleExact)
	assert.Greater(t, got.Confidence, ConfidenceAuthorYear)

	strict := NewMatcher(sources.NewIndex(testEntries), 0.9)
	_, ok = strict.Match(rec)
	assert.False(t, ok)
}

func TestMatcher_TiesGoToHighestScoreThenLoadOrder(t *testing.T) {
	entries := []sources.Entry{
		{Key: "A", Title: "Sepsis bundles in the emergency department", Year: 2019,
			Authors: []record.Author{{Family: "Smith"}, {Family: "Jones"}, {Family: "Lee"}}},
		{Key: "B", Title: "Sepsis bundles in the emergency department", Year: 2019,
			Authors: []record.Author{{Family: "Smith"}, {Family: "Jones"}}},
		{Key: "C", Title: "Other", Year: 2019,
			Authors: []record.Author{{Family: "Smith"}, {Family: "Jones"}}},
	}
	m := NewMatcher(sources.NewIndex(entries), DefaultFuzzyThreshold)

	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis bundles in the emergency department"
	got, ok := m.Match(rec)
	require.True(t, ok)
	assert.Equal(t, "A", got.Entry.Key)

	rec = &record.Record{}
	rec.Metadata.YearNorm = "2019"
	rec.Metadata.Authors = record.AuthorList{{Family: "Smith"}, {Family: "Jones"}}
	got, ok = m.Match(rec)
	require.True(t, ok)
	assert.Equal(t, MethodAuthorYear, got.Method)
	assert.Equal(t, "B", got.Entry.Key)
	assert.Equal(t, 1.0, got.Score)
}

func TestApply_OverrideAppliedLastAndWins(t *testing.T) {
	ov, err := sources.ParseOverrides([]byte(`{"egdt.json": {"journal": "J Am Med Assoc", "volume": "318"}}`))
	require.NoError(t, err)

	rec := &record.Record{}
	rec.Metadata.Title = testEntries[0].Title
	res, err := newTestMerger(t, ov).Apply("egdt.json", rec)
	require.NoError(t, err)

	assert.True(t, res.OverrideApplied)
	assert.Equal(t, "J Am Med Assoc", rec.Metadata.Journal)
	last, ok := rec.LastPatch("metadata.journal")
	require.True(t, ok)
	assert.Equal(t, provenance.SourceManual, last.Source)
	assert.Equal(t, 1.0, last.Confidence)

	// volume already equals the override: no manual patch
	vol, _ := rec.LastPatch("metadata.volume")
	assert.Equal(t, "merge:title_exact", vol.Source)
}

func TestApply_ForcedMatchByKey(t *testing.T) {
	ov, err := sources.ParseOverrides([]byte(`{"mystery.json": "ARDS"}`))
	require.NoError(t, err)

	rec := &record.Record{}
	rec.Metadata.Title = testEntries[0].Title
	res, err := newTestMerger(t, ov).Apply("mystery.json", rec)
	require.NoError(t, err)

	assert.Equal(t, MethodOverride, res.Method)
	assert.Equal(t, "ARDS", res.Key)
	assert.Equal(t, testEntries[1].Title, rec.Metadata.Title)
}

func TestApply_OverrideWithoutMatch(t *testing.T) {
	ov, err := sources.ParseOverrides([]byte(`{"by_title": {"A Lost Paper": {"year": "2001"}}}`))
	require.NoError(t, err)

	rec := &record.Record{}
	rec.Metadata.Title = "A lost paper"
	res, err := newTestMerger(t, ov).Apply("lost.json", rec)
	require.NoError(t, err)

	assert.Equal(t, StatusOverride, res.Status)
	assert.Equal(t, record.FlexibleString("2001"), rec.Metadata.Year)
	assert.Equal(t, "2001", rec.Metadata.YearNorm)
	assert.Nil(t, rec.Provenance.Zotero)
}

func TestApply_DOIConflict(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = testEntries[0].Title
	rec.Metadata.DOI = "10.9999/other"

	res, err := newTestMerger(t, nil).Apply("egdt.json", rec)
	require.NoError(t, err)
	assert.True(t, res.DOIConflict)
	assert.Equal(t, MethodTitleExact, res.Method)
	assert.Equal(t, "10.9999/other", res.RecordDOI)
	assert.Equal(t, "10.1001/jama.2017.17426", res.EntryDOI)

	// unpatched extraction value at base confidence loses to the match
	p, ok := rec.LastPatch("metadata.doi")
	require.True(t, ok)
	assert.Equal(t, "10.9999/other", p.From)
	assert.Equal(t, record.OpReplace, p.Op)
}

func TestApply_UnmatchedPassesThrough(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Nothing like the library"
	before, err := record.Encode(rec)
	require.NoError(t, err)

	res, err := newTestMerger(t, nil).Apply("x.json", rec)
	require.NoError(t, err)
	assert.Equal(t, StatusUnmatched, res.Status)
	assert.Empty(t, res.Patches)

	after, err := record.Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestApply_Idempotent(t *testing.T) {
	ov, err := sources.ParseOverrides([]byte(`{"egdt.json": {"pages": "1-10"}}`))
	require.NoError(t, err)
	m := newTestMerger(t, ov)

	rec := &record.Record{}
	rec.Metadata.Title = "Early goal directed therapy in septic shock patients"
	_, err = m.Apply("egdt.json", rec)
	require.NoError(t, err)
	first, err := record.Encode(rec)
	require.NoError(t, err)

	res, err := m.Apply("egdt.json", rec)
	require.NoError(t, err)
	assert.Empty(t, res.Patches)
	second, err := record.Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestApply_ReplayReconstructsMetadata(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "prone positioning in severe acute respiratory distress syndrome"
	rec.Metadata.Authors = record.AuthorList{{Display: "Guerin C"}}

	_, err := newTestMerger(t, nil).Apply("ards.json", rec)
	require.NoError(t, err)

	base := &record.Record{}
	base.Metadata.Title = "prone positioning in severe acute respiratory distress syndrome"
	base.Metadata.Authors = record.AuthorList{{Display: "Guerin C"}}
	got, err := record.Replay(base, rec.Provenance.Patches)
	require.NoError(t, err)
	assert.True(t, record.Equal(rec.Metadata, got.Metadata))
}

func TestSummarize_AndStrict(t *testing.T) {
	results := []Result{
		{Status: StatusMatched, Method: MethodDOI, Patches: make([]record.Patch, 2)},
		{Status: StatusMatched, Method: MethodTitleFuzzy, DOIConflict: true},
		{Status: StatusUnmatched},
		{Status: StatusOverride, OverrideApplied: true, Patches: make([]record.Patch, 1)},
		{Status: StatusMalformed, Error: "bad json"},
	}
	s := Summarize("run", false, results)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.MatchedTotal())
	assert.Equal(t, 2, s.Unmatched)
	assert.Equal(t, 1, s.Malformed)
	assert.Equal(t, 1, s.DOIConflicts)
	assert.Equal(t, 1, s.OverridesApplied)
	assert.Equal(t, 3, s.Patches)

	v := s.StrictViolations(0.05)
	assert.Len(t, v, 2)
	assert.Empty(t, Summary{Total: 10, Matched: map[string]int{MethodDOI: 10}}.StrictViolations(0.05))
}

func TestWriteReport_DOIConflictColumns(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = testEntries[0].Title
	rec.Metadata.DOI = "10.9999/other"
	res, err := newTestMerger(t, nil).Apply("egdt.json", rec)
	require.NoError(t, err)

	dir := t.TempDir()
	results := []Result{res, {File: "none.json", Status: StatusUnmatched}}
	require.NoError(t, WriteReport(dir, Summarize("run", false, results), results))

	f, err := os.Open(filepath.Join(dir, ReportFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	col := make(map[string]int)
	for i, h := range rows[0] {
		col[h] = i
	}
	row := rows[1]
	assert.Equal(t, "egdt.json", row[col["file"]])
	assert.Equal(t, "yes", row[col["doi_conflict"]])
	assert.Equal(t, "10.9999/other", row[col["record_doi"]])
	assert.Equal(t, "10.1001/jama.2017.17426", row[col["entry_doi"]])
	assert.Equal(t, "", rows[2][col["record_doi"]])
	assert.Equal(t, "", rows[2][col["entry_doi"]])
}
