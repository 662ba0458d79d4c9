package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medparse/medparse/internal/config"
	"github.com/medparse/medparse/internal/record"
)

func completeRecord() *record.Record {
	r := &record.Record{}
	r.Metadata.Title = "Early Goal-Directed Therapy"
	r.Metadata.YearNorm = "2017"
	r.Metadata.Authors = record.AuthorList{{Given: "J", Family: "Smith"}}
	r.Metadata.DOI = "10.1001/jama.2017.17426"
	r.Metadata.Journal = "JAMA"
	r.Metadata.Abstract = "Background text."
	r.Metadata.ReferencesStruct = []map[string]any{{"title": "x"}}
	r.Structure.Sections = []record.Section{{Title: "Introduction", Paragraphs: []record.Paragraph{{Text: "Body."}}}}
	r.Structure.Figures = []map[string]any{{"id": "f1"}}
	r.Structure.Tables = []map[string]any{{"id": "t1"}}
	r.UMLSLinks = []map[string]any{{"cui": "C0036690"}}
	r.Statistics = []map[string]any{{"p": 0.01}}
	r.CrossRefs = []map[string]any{{"ref": "Table 1"}}
	return r
}

func TestScore_Complete(t *testing.T) {
	score, checks := Score(completeRecord())
	assert.Equal(t, 100, score)
	for name, ok := range checks {
		assert.True(t, ok, name)
	}
	assert.Len(t, checks, len(Predicates))
}

func TestScore_Empty(t *testing.T) {
	score, _ := Score(&record.Record{})
	assert.Equal(t, 0, score)
}

func TestTier(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, TierPoor},
		{59, TierPoor},
		{60, TierFair},
		{74, TierFair},
		{75, TierGood},
		{89, TierGood},
		{90, TierExcellent},
		{100, TierExcellent},
	}
	for _, tt := range tests {
		if got := Tier(tt.score); got != tt.want {
			t.Errorf("Tier(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestScore_AddingAuthorNeverDecreases(t *testing.T) {
	base := completeRecord()
	variants := []func(*record.Record){
		func(r *record.Record) {},
		func(r *record.Record) { r.Metadata.DOI = "" },
		func(r *record.Record) { r.Structure.Sections = nil },
		func(r *record.Record) {
			r.Metadata.Title = ""
			r.Statistics = nil
		},
		func(r *record.Record) { *r = record.Record{} },
	}
	for i, mutate := range variants {
		r, err := base.Clone()
		require.NoError(t, err)
		mutate(r)
		r.Metadata.Authors = nil
		before, _ := Score(r)

		r.Metadata.Authors = record.AuthorList{{Given: "A", Family: "Lee"}}
		after, _ := Score(r)
		assert.GreaterOrEqual(t, after, before, "variant %d", i)
	}
}

func TestIssues(t *testing.T) {
	r := completeRecord()
	assert.Empty(t, Issues(r))

	r.Metadata.Title = "Untitled"
	r.Metadata.Authors = record.AuthorList{{Display: "Smith J, Jones M"}}
	r.Metadata.YearNorm = ""
	r.Metadata.Year = "circa 2017"
	r.Metadata.DOI = ""
	assert.Equal(t, []string{
		IssueTitleMissing,
		IssueAuthorsUnstructured,
		IssueYearFormat,
		IssueDOIMissing,
	}, Issues(r))
}

func TestIssues_Authors(t *testing.T) {
	tests := []struct {
		name    string
		authors record.AuthorList
		want    string
	}{
		{"missing", nil, IssueAuthorsMissing},
		{"group only", record.AuthorList{{Display: "ARDS Network", Group: true}}, IssueAuthorsGroupOnly},
		{"ack", record.AuthorList{{Family: "Contributions", Given: "Author"}}, IssueAuthorsAckLike},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := completeRecord()
			r.Metadata.Authors = tt.authors
			assert.Contains(t, Issues(r), tt.want)
			assert.False(t, Evaluate("a.json", r).Pass)
		})
	}
}

func TestEvaluate_PassRequiresNoCriticalAndScore(t *testing.T) {
	r := completeRecord()
	res := Evaluate("a.json", r)
	assert.True(t, res.Pass)
	assert.Equal(t, TierExcellent, res.Tier)

	// Only warnings: still passes.
	r.Metadata.DOI = ""
	r.Metadata.Abstract = ""
	assert.True(t, Evaluate("a.json", r).Pass)

	r.Structure.Sections = nil
	assert.False(t, Evaluate("a.json", r).Pass)
}

func TestSummarize_ExcludesMalformed(t *testing.T) {
	good := Evaluate("a.json", completeRecord())
	empty := Evaluate("b.json", &record.Record{})
	bad := MalformedResult("c.json", errors.New("unexpected EOF"))

	s := Summarize("run-1", []FileResult{good, empty, bad})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Audited)
	assert.Equal(t, 1, s.Malformed)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 0.5, s.PassRate)
	assert.Equal(t, 0, s.ScoreMin)
	assert.Equal(t, 100, s.ScoreMax)
	assert.Equal(t, 50.0, s.ScoreMean)
	assert.Equal(t, 1, s.Count(IssueTitleMissing))
	assert.Equal(t, 50.0, s.Percent[IssueTitleMissing])
	assert.Zero(t, s.Count(IssueJSONError))
}

func TestReport_Write(t *testing.T) {
	dir := t.TempDir()
	rep := NewReport("run-1", []FileResult{
		MalformedResult("z.json", errors.New("bad")),
		Evaluate("a.json", completeRecord()),
	})
	require.NoError(t, rep.Write(dir))

	for _, name := range []string{SummaryFile, IssuesFile, FilesFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	data, err := os.ReadFile(filepath.Join(dir, IssuesFile))
	require.NoError(t, err)
	assert.Equal(t, "file,score,tier,issues,error\na.json,100,excellent,,\nz.json,,poor,JSON_ERROR,bad\n", string(data))
}

func TestCheckGates(t *testing.T) {
	s := Summary{
		Malformed: 2,
		PassRate:  0.4,
		Issues:    map[string]int{IssueDOIMissing: 5},
	}
	g := config.GatesConfig{
		MaxMissingTitle:   -1,
		MaxMissingAuthors: -1,
		MaxMissingDOI:     3,
		MaxMalformed:      2,
		MinPassRate:       0.5,
	}
	failures := CheckGates(s, g)
	require.Len(t, failures, 2)
	assert.Equal(t, "missing_doi", failures[0].Gate)
	assert.Equal(t, "pass_rate", failures[1].Gate)

	g.MinPassRate = 0
	g.MaxMissingDOI = -1
	assert.Empty(t, CheckGates(s, g))
}
