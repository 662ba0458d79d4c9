package provenance

import (
	"fmt"
	"time"

	"github.com/medparse/medparse/internal/record"
)

// DefaultBaseConfidence is the confidence of a populated field that no patch
// has touched, i.e. a value straight from extraction.
const DefaultBaseConfidence = 0.5

// Patcher applies candidates to one record and logs accepted changes.
type Patcher struct {
	rec     *record.Record
	rules   []Rule
	base    float64
	now     func() time.Time
	applied []record.Patch
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithRules replaces the default rule list.
func WithRules(rules []Rule) Option {
	return func(p *Patcher) {
		p.rules = rules
	}
}

// WithBaseConfidence sets the confidence of unpatched populated fields.
func WithBaseConfidence(c float64) Option {
	return func(p *Patcher) {
		p.base = c
	}
}

// WithClock sets the timestamp source for patches.
func WithClock(now func() time.Time) Option {
	return func(p *Patcher) {
		p.now = now
	}
}

// NewPatcher creates a Patcher over rec.
func NewPatcher(rec *record.Record, opts ...Option) *Patcher {
	p := &Patcher{
		rec:   rec,
		rules: DefaultRules,
		base:  DefaultBaseConfidence,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current value and effective confidence of path.
func (p *Patcher) State(path string) (FieldState, error) {
	v, err := p.rec.Get(path)
	if err != nil {
		return FieldState{}, err
	}
	st := FieldState{Value: v, Present: record.IsPresent(v)}
	if st.Present {
		st.Confidence = EffectiveConfidence(p.rec, path, p.base)
	}
	return st, nil
}

// EffectiveConfidence is the confidence of the last patch on path, or base
// when the field has never been patched.
func EffectiveConfidence(rec *record.Record, path string, base float64) float64 {
	if last, ok := rec.LastPatch(path); ok {
		return last.Confidence
	}
	return base
}

// Propose evaluates a candidate for path and applies it when the rules allow.
func (p *Patcher) Propose(path string, cand Candidate) (Decision, error) {
	value, err := record.Coerce(path, cand.Value)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", path, err)
	}
	cand.Value = value

	cur, err := p.State(path)
	if err != nil {
		return Decision{}, err
	}

	d := Evaluate(p.rules, cur, cand)
	if d.Action != Overwrite {
		return d, nil
	}

	op := record.OpReplace
	var from any = cur.Value
	if !cur.Present {
		op = record.OpAdd
		from = nil
	}
	if err := p.rec.Set(path, value); err != nil {
		return Decision{}, err
	}
	patch := record.Patch{
		Path:       path,
		Op:         op,
		From:       from,
		To:         value,
		Source:     cand.Source,
		Confidence: d.Confidence,
		At:         p.now().UTC().Format(time.RFC3339),
	}
	p.rec.Provenance.Patches = append(p.rec.Provenance.Patches, patch)
	p.applied = append(p.applied, patch)
	return d, nil
}

// Applied returns the patches this Patcher appended, in order.
func (p *Patcher) Applied() []record.Patch {
	return p.applied
}
