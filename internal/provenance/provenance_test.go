package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medparse/medparse/internal/record"
)

func fixedClock() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		cur      FieldState
		cand     Candidate
		wantRule string
		want     Action
	}{
		{
			name:     "fill empty field",
			cur:      FieldState{},
			cand:     Candidate{Value: "10.1/x", Source: SourceMergeDOI, Confidence: 1},
			wantRule: "fill-empty",
			want:     Overwrite,
		},
		{
			name:     "tie keeps existing",
			cur:      FieldState{Value: "Lancet", Present: true, Confidence: 0.9},
			cand:     Candidate{Value: "BMJ", Source: SourceMergeTitleFuzzy, Confidence: 0.9},
			wantRule: "keep-existing",
			want:     Skip,
		},
		{
			name:     "lower confidence loses",
			cur:      FieldState{Value: "Lancet", Present: true, Confidence: 0.95},
			cand:     Candidate{Value: "BMJ", Source: SourceMergeAuthorYear, Confidence: 0.75},
			wantRule: "keep-existing",
			want:     Skip,
		},
		{
			name:     "higher confidence wins",
			cur:      FieldState{Value: "Lancet", Present: true, Confidence: 0.5},
			cand:     Candidate{Value: "BMJ", Source: SourceMergeDOI, Confidence: 1},
			wantRule: "higher-confidence",
			want:     Overwrite,
		},
		{
			name:     "manual beats anything",
			cur:      FieldState{Value: "Lancet", Present: true, Confidence: 1},
			cand:     Candidate{Value: "BMJ", Source: SourceManual, Confidence: 0.2},
			wantRule: "manual-wins",
			want:     Overwrite,
		},
		{
			name:     "manual same value is a no-op",
			cur:      FieldState{Value: "BMJ", Present: true, Confidence: 1},
			cand:     Candidate{Value: "BMJ", Source: SourceManual, Confidence: 1},
			wantRule: "unchanged",
			want:     Skip,
		},
		{
			name:     "empty candidate",
			cur:      FieldState{Value: "Lancet", Present: true, Confidence: 0.5},
			cand:     Candidate{Value: "", Source: SourceCrossref, Confidence: 1},
			wantRule: "empty-candidate",
			want:     Skip,
		},
		{
			name:     "derived repair inherits",
			cur:      FieldState{Value: "doi:10.1/x", Present: true, Confidence: 1},
			cand:     Candidate{Value: "10.1/x", Source: "harden:doi", Confidence: 0.4, Derived: true},
			wantRule: "derived-repair",
			want:     Overwrite,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(DefaultRules, tt.cur, tt.cand)
			assert.Equal(t, tt.wantRule, d.Rule)
			assert.Equal(t, tt.want, d.Action)
		})
	}
}

func TestEvaluate_DerivedKeepsConfidence(t *testing.T) {
	d := Evaluate(DefaultRules,
		FieldState{Value: "x", Present: true, Confidence: 0.95},
		Candidate{Value: "y", Source: "harden:authors", Confidence: 0.3, Derived: true})
	assert.Equal(t, 0.95, d.Confidence)
}

func TestRank(t *testing.T) {
	assert.Equal(t, 0, Rank(SourceManual))
	assert.Less(t, Rank(SourceCrossref), Rank(SourceMergeDOI))
	assert.Less(t, Rank(SourceMergeDOI), Rank("harden:doi"))
	assert.Equal(t, len(Precedence), Rank("something-else"))
	assert.False(t, IsManual("manual"))
}

func TestPatcher_LogsEveryChange(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Sepsis"
	p := NewPatcher(rec, WithClock(fixedClock))

	d, err := p.Propose("metadata.doi", Candidate{Value: "10.1001/jama.2017.17426", Source: SourceMergeDOI, Confidence: 1})
	require.NoError(t, err)
	assert.Equal(t, Overwrite, d.Action)

	// extraction title has base confidence 0.5
	d, err = p.Propose("metadata.title", Candidate{Value: "Sepsis care", Source: SourceMergeTitleFuzzy, Confidence: 0.88})
	require.NoError(t, err)
	assert.Equal(t, "higher-confidence", d.Rule)

	d, err = p.Propose("metadata.title", Candidate{Value: "Other", Source: SourceMergeAuthorYear, Confidence: 0.75})
	require.NoError(t, err)
	assert.Equal(t, Skip, d.Action)

	require.Len(t, rec.Provenance.Patches, 2)
	first := rec.Provenance.Patches[0]
	assert.Equal(t, "metadata.doi", first.Path)
	assert.Equal(t, record.OpAdd, first.Op)
	assert.Nil(t, first.From)
	assert.Equal(t, "2024-03-01T12:00:00Z", first.At)

	second := rec.Provenance.Patches[1]
	assert.Equal(t, record.OpReplace, second.Op)
	assert.Equal(t, "Sepsis", second.From)
	assert.Equal(t, "Sepsis care", rec.Metadata.Title)
	assert.Equal(t, p.Applied(), rec.Provenance.Patches)
}

func TestPatcher_ConfidenceNeverDecreases(t *testing.T) {
	rec := &record.Record{}
	p := NewPatcher(rec, WithClock(fixedClock))

	proposals := []Candidate{
		{Value: "J Crit Care", Source: "harden:journal", Confidence: 0.4},
		{Value: "Crit Care", Source: SourceMergeAuthorYear, Confidence: 0.75},
		{Value: "Crit Care Med", Source: SourceMergeDOI, Confidence: 1},
		{Value: "Critical Care", Source: SourceCrossref, Confidence: 0.93},
		{Value: "crit care med", Source: "harden:journal", Confidence: 0.4, Derived: true},
		{Value: "Chest", Source: SourceMergeTitleFuzzy, Confidence: 0.9},
	}
	for _, c := range proposals {
		_, err := p.Propose("metadata.journal", c)
		require.NoError(t, err)
	}

	last := -1.0
	for _, patch := range rec.Provenance.Patches {
		if !IsManual(patch.Source) {
			assert.GreaterOrEqual(t, patch.Confidence, last, "patch from %s lowered confidence", patch.Source)
		}
		last = patch.Confidence
	}
	assert.Equal(t, "crit care med", rec.Metadata.Journal)
}

func TestPatcher_ReplayMatchesFinalState(t *testing.T) {
	rec := &record.Record{}
	rec.Metadata.Title = "Initial"
	initial, err := rec.Clone()
	require.NoError(t, err)

	p := NewPatcher(rec, WithClock(fixedClock))
	_, err = p.Propose("metadata.title", Candidate{Value: "Final title", Source: SourceMergeDOI, Confidence: 1})
	require.NoError(t, err)
	_, err = p.Propose("metadata.authors", Candidate{Value: []record.Author{{Given: "J", Family: "Smith"}}, Source: SourceMergeDOI, Confidence: 1})
	require.NoError(t, err)
	_, err = p.Propose("metadata.year", Candidate{Value: 2017, Source: SourceManual, Confidence: 1})
	require.NoError(t, err)

	replayed, err := record.Replay(initial, rec.Provenance.Patches)
	require.NoError(t, err)
	assert.True(t, record.Equal(rec.Metadata, replayed.Metadata))
}
