package harden

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medparse/medparse/internal/provenance"
	"github.com/medparse/medparse/internal/record"
)

func fixedClock() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

func newTestHardener(opts Options) *Hardener {
	opts.Now = fixedClock
	return New(opts)
}

const introText = "Sepsis is a life threatening organ dysfunction caused by a dysregulated host response."

func intro() []record.Section {
	return []record.Section{{Title: "Introduction", Paragraphs: []record.Paragraph{{Text: introText}}}}
}

func TestApply_AbstractFromIntroduction(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis definitions"
	rec.Structure.Sections = intro()

	res, err := newTestHardener(Options{MaxAbstractChars: 50}).Apply("paper.json", rec)
	require.NoError(t, err)

	assert.Equal(t, "Sepsis is a life threatening organ dysfunction", rec.Metadata.Abstract)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, "abstract", res.Fixes[0].Field)
	assert.Equal(t, ActionFromSection, res.Fixes[0].Action)
	assert.Nil(t, res.Fixes[0].Old)

	require.NotNil(t, rec.Validation)
	require.NotNil(t, rec.Validation.Hardening)
	assert.Equal(t, res.Fixes, rec.Validation.Hardening.Fixes)
	assert.Nil(t, rec.Validation.CompletenessScore)
}

func TestApply_AbstractPrefersAbstractSection(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis definitions"
	rec.Structure.Sections = append([]record.Section{
		{Title: "Summary", Paragraphs: []record.Paragraph{{Text: "Short summary."}}},
	}, intro()...)

	res, err := newTestHardener(Options{}).Apply("paper.json", rec)
	require.NoError(t, err)
	assert.Equal(t, "Short summary.", rec.Metadata.Abstract)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, ActionFromAbstractSection, res.Fixes[0].Action)
}

func TestApply_AuthorAffiliationStripped(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis definitions"
	rec.Metadata.Authors = record.AuthorList{{Display: "Smith J, Jones M, 1Department of Medicine"}}

	res, err := newTestHardener(Options{}).Apply("paper.json", rec)
	require.NoError(t, err)

	authors := rec.Metadata.Authors
	require.Len(t, authors, 2)
	assert.Equal(t, "Smith", authors[0].Family)
	assert.Equal(t, "J", authors[0].Given)
	assert.Equal(t, "Jones", authors[1].Family)
	assert.Equal(t, "M", authors[1].Given)

	require.Len(t, res.Fixes, 1)
	assert.Equal(t, "authors", res.Fixes[0].Field)
	assert.Equal(t, ActionFiltered, res.Fixes[0].Action)

	// a derived repair keeps the confidence of the value it repaired
	require.Len(t, res.Patches, 1)
	assert.Equal(t, provenance.DefaultBaseConfidence, res.Patches[0].Confidence)
	assert.Equal(t, "harden:authors", res.Patches[0].Source)
}

func TestApply_AuthorsRestructuredAndDeduplicated(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis definitions"
	rec.Metadata.Authors = record.AuthorList{
		{Display: "Garcia A; Lee B"},
		{Family: "Lee", Given: "B"},
		{Family: "Contributions", Given: "Author"},
		{Display: "PROWESS Study Group"},
	}

	res, err := newTestHardener(Options{}).Apply("paper.json", rec)
	require.NoError(t, err)

	authors := rec.Metadata.Authors
	require.Len(t, authors, 3)
	assert.Equal(t, "Garcia", authors[0].Family)
	assert.Equal(t, "Lee", authors[1].Family)
	assert.True(t, authors[2].Group)
	assert.Equal(t, "PROWESS Study Group", authors[2].Display)
	assert.Equal(t, ActionFiltered, res.Fixes[0].Action)
}

func TestApply_AuthorsRestructuredOnly(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis definitions"
	rec.Metadata.Authors = record.AuthorList{{Display: "Smith J; Jones M"}}

	res, err := newTestHardener(Options{}).Apply("paper.json", rec)
	require.NoError(t, err)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, ActionRestructured, res.Fixes[0].Action)
}

func TestApply_AuthorsFromSections(t *testing.T) {
	para := func(text string) []record.Paragraph { return []record.Paragraph{{Text: text}} }
	tests := []struct {
		name     string
		sections []record.Section
		want     []string // family names
	}{
		{
			name: "byline as section title",
			sections: append([]record.Section{
				{Title: "Smith J, Jones M, 1Department of Medicine"},
			}, intro()...),
			want: []string{"Smith", "Jones"},
		},
		{
			name: "byline as first line of text",
			sections: append([]record.Section{
				{Title: "Early Goal-Directed Therapy", Paragraphs: para("Derek C Angus and Tiffany Osborn\nUniversity of Pittsburgh")},
			}, intro()...),
			want: []string{"Angus", "Osborn"},
		},
		{
			name: "stops at the introduction",
			sections: append(intro(), record.Section{
				Title: "Smith J, Jones M",
			}),
		},
		{
			name: "lowercase phrase is not a byline",
			sections: []record.Section{
				{Title: "Sepsis, septic shock and organ failure"},
			},
		},
		{
			name: "degrees only",
			sections: []record.Section{
				{Title: "MD, PhD"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &record.Record{}
			rec.Metadata.Title = "Sepsis definitions"
			rec.Metadata.Abstract = "Present."
			rec.Structure.Sections = tt.sections

			res, err := newTestHardener(Options{}).Apply("paper.json", rec)
			require.NoError(t, err)

			var got []string
			for _, a := range rec.Metadata.Authors {
				got = append(got, a.Family)
			}
			assert.Equal(t, tt.want, got)
			if tt.want == nil {
				assert.Empty(t, res.Patches)
				return
			}
			require.Len(t, res.Fixes, 1)
			assert.Equal(t, ActionFromSections, res.Fixes[0].Action)
			require.Len(t, res.Patches, 1)
			assert.Equal(t, ConfidenceFromSections, res.Patches[0].Confidence)

			again, err := newTestHardener(Options{}).Apply("paper.json", rec)
			require.NoError(t, err)
			assert.Empty(t, again.Patches)
		})
	}
}

func TestApply_EmptyAuthorsDropped(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis definitions"
	rec.Metadata.Authors = record.AuthorList{{Display: "MD, PhD"}, {Family: "Smith", Given: "J"}}

	res, err := newTestHardener(Options{}).Apply("paper.json", rec)
	require.NoError(t, err)
	require.Len(t, rec.Metadata.Authors, 1)
	assert.Equal(t, "Smith", rec.Metadata.Authors[0].Family)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, ActionFiltered, res.Fixes[0].Action)
}

func TestApply_TitleFromFilename(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Untitled"

	res, err := newTestHardener(Options{}).Apply("early_goal-directed_therapy.json", rec)
	require.NoError(t, err)
	assert.Equal(t, "Early Goal Directed Therapy", rec.Metadata.Title)
	require.NotEmpty(t, res.Patches)
	assert.Equal(t, ConfidenceFromFilename, res.Patches[0].Confidence)
	assert.Equal(t, record.OpAdd, res.Patches[0].Op)
}

func TestApply_Year(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		mutate     func(*record.Record)
		want       string
		action     string
		confidence float64
	}{
		{
			name:       "raw year text",
			file:       "a.json",
			mutate:     func(r *record.Record) { r.Metadata.Year = "Published March 2019" },
			want:       "2019",
			action:     ActionNormalized,
			confidence: ConfidenceYearParsed,
		},
		{
			name:       "malformed year_norm repaired",
			file:       "a.json",
			mutate:     func(r *record.Record) { r.Metadata.YearNorm = "2017a" },
			want:       "2017",
			action:     ActionNormalized,
			confidence: provenance.DefaultBaseConfidence,
		},
		{
			name:       "published date",
			file:       "a.json",
			mutate:     func(r *record.Record) { r.Metadata.Published.Print = "2018-04-01" },
			want:       "2018",
			action:     ActionFromPublished,
			confidence: ConfidenceFromPublished,
		},
		{
			name:       "filename",
			file:       "smith_2015_sepsis.json",
			mutate:     func(r *record.Record) {},
			want:       "2015",
			action:     ActionFromFilename,
			confidence: ConfidenceFromFilename,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &record.Record{}
			rec.Metadata.Title = "Sepsis definitions"
			tt.mutate(rec)

			res, err := newTestHardener(Options{}).Apply(tt.file, rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Metadata.YearNorm)
			require.Len(t, res.Fixes, 1)
			assert.Equal(t, tt.action, res.Fixes[0].Action)
			assert.Equal(t, tt.confidence, res.Patches[0].Confidence)
		})
	}
}

func TestParseYear(t *testing.T) {
	tests := []struct {
		raw      string
		scanOnly bool
		want     int
	}{
		{"2017", false, 2017},
		{"Spring 2004 issue", false, 2004},
		{"1/2/06", false, 2006},
		{"1/2/06", true, 0},
		{"unknown", false, 0},
		{"", false, 0},
		{"no date here", false, 0},
	}
	for _, tt := range tests {
		if got := parseYear(tt.raw, tt.scanOnly); got != tt.want {
			t.Errorf("parseYear(%q, %v) = %d, want %d", tt.raw, tt.scanOnly, got, tt.want)
		}
	}
}

func TestApply_DOI(t *testing.T) {
	t.Run("cleaned", func(t *testing.T) {
		rec := &record.Record{}
		rec.Metadata.Title = "Sepsis definitions"
		rec.Metadata.DOI = "https://doi.org/10.1001/JAMA.2017.17426."

		res, err := newTestHardener(Options{}).Apply("a.json", rec)
		require.NoError(t, err)
		assert.Equal(t, "10.1001/jama.2017.17426", rec.Metadata.DOI)
		require.Len(t, res.Fixes, 1)
		assert.Equal(t, ActionCleaned, res.Fixes[0].Action)
		assert.Equal(t, "https://doi.org/10.1001/JAMA.2017.17426.", res.Fixes[0].Old)
	})

	t.Run("front matter", func(t *testing.T) {
		rec := &record.Record{}
		rec.Metadata.Title = "Sepsis definitions"
		rec.Metadata.Abstract = "Present."
		rec.Structure.Sections = []record.Section{
			{Title: "Abstract", Paragraphs: []record.Paragraph{{Text: "N Engl J Med 2013.\ndoi: 10.1056/NEJMoa1214103 ."}}},
		}

		res, err := newTestHardener(Options{}).Apply("a.json", rec)
		require.NoError(t, err)
		assert.Equal(t, "10.1056/nejmoa1214103", rec.Metadata.DOI)
		require.Len(t, res.Patches, 1)
		assert.Equal(t, ConfidenceFrontMatter, res.Patches[0].Confidence)
		assert.Equal(t, ActionFromFrontMatter, res.Fixes[0].Action)
	})

	t.Run("reference list ignored", func(t *testing.T) {
		rec := &record.Record{}
		rec.Metadata.Title = "Sepsis definitions"
		rec.Metadata.Abstract = "Present."
		rec.Structure.Sections = []record.Section{
			{Title: "Methods", Paragraphs: []record.Paragraph{{Text: "We enrolled patients."}}},
			{Title: "References", Paragraphs: []record.Paragraph{{Text: "1. Other paper. doi:10.1056/NEJMoa1214103"}}},
		}

		res, err := newTestHardener(Options{}).Apply("a.json", rec)
		require.NoError(t, err)
		assert.Empty(t, rec.Metadata.DOI)
		assert.Empty(t, res.Patches)
	})

	t.Run("front matter limit", func(t *testing.T) {
		rec := &record.Record{}
		rec.Metadata.Title = "Sepsis definitions"
		rec.Metadata.Abstract = "Present."
		rec.Structure.Sections = []record.Section{
			{Title: "Methods", Paragraphs: []record.Paragraph{{Text: introText + " doi:10.1056/NEJMoa1214103"}}},
		}

		_, err := newTestHardener(Options{FrontMatterChars: 40}).Apply("a.json", rec)
		require.NoError(t, err)
		assert.Empty(t, rec.Metadata.DOI)
	})
}

func TestApply_JournalCanonicalized(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis definitions"
	rec.Metadata.Journal = "N Engl J Med"

	res, err := newTestHardener(Options{}).Apply("a.json", rec)
	require.NoError(t, err)
	assert.Equal(t, "The New England Journal of Medicine", rec.Metadata.JournalFull)
	assert.Equal(t, "N Engl J Med", rec.Metadata.Journal)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, "journal_full", res.Fixes[0].Field)
	assert.Equal(t, ActionCanonicalized, res.Fixes[0].Action)
	assert.Equal(t, provenance.DefaultBaseConfidence, res.Patches[0].Confidence)
}

func TestJournalTable_Lookup(t *testing.T) {
	table := DefaultJournals()
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"N Engl J Med", "The New England Journal of Medicine", true},
		{"n. engl. j. med.", "The New England Journal of Medicine", true},
		{"New England Jounal of Medicine", "The New England Journal of Medicine", true},
		{"Lancet", "The Lancet", true},
		{"Lancat", "", false},
		{"Journal of Imaginary Results", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := table.Lookup(tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestLoadJournalSynonyms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journals.yaml")
	data := "Acta Anaesthesiologica Scandinavica:\n  - Acta Anaesthesiol Scand\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	table, err := LoadJournalSynonyms(path)
	require.NoError(t, err)
	got, ok := table.Lookup("Acta Anaesthesiol Scand")
	assert.True(t, ok)
	assert.Equal(t, "Acta Anaesthesiologica Scandinavica", got)

	// built-ins survive
	_, ok = table.Lookup("JAMA")
	assert.True(t, ok)

	_, err = LoadJournalSynonyms(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func messyRecord() *record.Record {
	rec := &record.Record{}
	rec.Metadata.Year = "Published March 2019"
	rec.Metadata.Authors = record.AuthorList{{Display: "Smith J, Jones M, 1Department of Medicine"}}
	rec.Metadata.DOI = "https://doi.org/10.1001/JAMA.2017.17426"
	rec.Metadata.Journal = "N Engl J Med"
	rec.Structure.Sections = intro()
	return rec
}

func TestApply_Idempotent(t *testing.T) {
	h := newTestHardener(Options{})
	rec := messyRecord()

	first, err := h.Apply("early_goal_directed_therapy.json", rec)
	require.NoError(t, err)
	assert.Len(t, first.Patches, 6)

	// round trip through the on-disk form, as a second run would see it
	data, err := record.Encode(rec)
	require.NoError(t, err)
	again, err := record.Decode(data)
	require.NoError(t, err)

	second, err := h.Apply("early_goal_directed_therapy.json", again)
	require.NoError(t, err)
	assert.Empty(t, second.Patches)
	assert.Empty(t, second.Fixes)
	assert.False(t, second.Changed())

	redata, err := record.Encode(again)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(redata))
}

func TestApply_PatchesReplay(t *testing.T) {
	rec := messyRecord()
	initial, err := rec.Clone()
	require.NoError(t, err)

	_, err = newTestHardener(Options{}).Apply("a.json", rec)
	require.NoError(t, err)

	replayed, err := record.Replay(initial, rec.Provenance.Patches)
	require.NoError(t, err)
	assert.True(t, record.Equal(rec.Metadata, replayed.Metadata))
}

func TestSummarizeAndWriteReport(t *testing.T) {
	h := newTestHardener(Options{})
	rec := messyRecord()
	changed, err := h.Apply("b.json", rec)
	require.NoError(t, err)
	clean := Result{File: "a.json"}
	failed := Result{File: "c.json", Error: "malformed record"}

	results := []Result{changed, clean, failed}
	s := Summarize("run-1", false, results)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Changed)
	assert.Equal(t, 1, s.Unchanged)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, len(changed.Patches), s.Patches)
	assert.Equal(t, 1, s.Fixes["authors"])
	assert.Equal(t, 1, s.Actions[ActionFiltered])

	dir := t.TempDir()
	require.NoError(t, WriteReport(dir, s, results))
	data, err := os.ReadFile(filepath.Join(dir, ChangesFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "file,field,action,old,new\n")
	assert.Contains(t, string(data), "b.json,doi,cleaned,https://doi.org/10.1001/JAMA.2017.17426,10.1001/jama.2017.17426\n")
	assert.Contains(t, string(data), "c.json,,error,,malformed record\n")
	_, err = os.Stat(filepath.Join(dir, SummaryFile))
	assert.NoError(t, err)
}
