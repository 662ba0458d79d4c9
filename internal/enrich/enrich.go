// Package enrich fills missing bibliographic fields from an online lookup.
// Only absent fields are written; a candidate must clear a similarity
// threshold before anything is touched.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medparse/medparse/internal/cache"
	"github.com/medparse/medparse/internal/crossref"
	"github.com/medparse/medparse/internal/names"
	"github.com/medparse/medparse/internal/observability"
	"github.com/medparse/medparse/internal/provenance"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/sources"
	"github.com/medparse/medparse/internal/textnorm"
)

// Record statuses.
const (
	StatusComplete           = "complete"
	StatusEnriched           = "enriched"
	StatusMatched            = "matched" // accepted, nothing left to fill
	StatusUnmatched          = "unmatched"
	StatusSkipped            = "skipped"
	StatusTransientExhausted = "transient_exhausted"
	StatusPermanent          = "permanent"
	StatusMalformed          = "malformed"
)

// Reasons attached to non-enriched statuses.
const (
	ReasonBelowThreshold = "below confidence threshold"
	ReasonNoCandidates   = "no candidates"
	ReasonNoTitle        = "no usable title"
	ReasonNothingMissing = "no missing fields"
)

// Score weights.
const (
	YearBonus   = 0.04
	AuthorBonus = 0.06
)

// Default acceptance thresholds.
const (
	DefaultMinScore             = 0.92
	DefaultMinCorroboratedScore = 0.88
)

// Fillable lists the metadata paths enrichment may fill, in order.
var Fillable = []string{
	"metadata.doi",
	"metadata.journal",
	"metadata.journal_full",
	"metadata.volume",
	"metadata.issue",
	"metadata.pages",
	"metadata.issn",
	"metadata.url",
	"metadata.year_norm",
}

// Searcher runs one lookup.
type Searcher interface {
	Search(ctx context.Context, q crossref.Query) crossref.Outcome
}

// Options configures an Enricher.
type Options struct {
	MinScore             float64
	MinCorroboratedScore float64
	Backoff              crossref.Backoff
	Cache                cache.Cache
	CacheTTL             time.Duration
	BaseConfidence       float64
	Logger               zerolog.Logger
	Metrics              *observability.Metrics
	Now                  func() time.Time
}

// Enricher looks up records and fills missing fields.
type Enricher struct {
	search Searcher
	opts   Options
}

// New creates an Enricher. Zero options take their defaults.
func New(s Searcher, opts Options) *Enricher {
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	if opts.MinCorroboratedScore <= 0 {
		opts.MinCorroboratedScore = DefaultMinCorroboratedScore
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = crossref.DefaultBackoff()
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.BaseConfidence <= 0 {
		opts.BaseConfidence = provenance.DefaultBaseConfidence
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Enricher{search: s, opts: opts}
}

// Result describes what enrichment did to one record.
type Result struct {
	File     string
	Status   string
	Reason   string
	Score    float64
	DOI      string
	Fields   []string
	Patches  []record.Patch
	Attempts int
	Cached   bool
	Error    string
}

// Missing returns the fillable paths rec lacks.
func Missing(rec *record.Record) []string {
	var out []string
	for _, p := range Fillable {
		if !rec.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// QueryFor builds the lookup for rec.
func QueryFor(rec *record.Record) crossref.Query {
	q := crossref.Query{
		Title: strings.TrimSpace(rec.Metadata.Title),
		Year:  sources.RecordYear(rec),
	}
	if s := names.Surnames(rec.Metadata.Authors); len(s) > 0 {
		q.Author = s[0]
	}
	return q
}

// Apply enriches rec in place. Lookup failures are reported through the
// Result status, not as errors; an error means the record itself could not
// be patched.
func (e *Enricher) Apply(ctx context.Context, file string, rec *record.Record) (Result, error) {
	res := Result{File: file}
	log := observability.WithFileContext(e.opts.Logger, file)

	missing := Missing(rec)
	if len(missing) == 0 {
		res.Status, res.Reason = StatusComplete, ReasonNothingMissing
		return res, nil
	}
	q := QueryFor(rec)
	if !record.IsPresent(q.Title) {
		res.Status, res.Reason = StatusSkipped, ReasonNoTitle
		return res, nil
	}

	out, attempts, cached := e.lookup(ctx, q, log)
	res.Attempts, res.Cached = attempts, cached

	switch out.Status {
	case crossref.NotFound:
		res.Status, res.Reason = StatusUnmatched, ReasonNoCandidates
		return res, nil
	case crossref.Transient:
		res.Status, res.Reason = StatusTransientExhausted, errString(out.Err)
		log.Warn().Err(out.Err).Int("attempts", attempts).Msg("lookup retries exhausted")
		return res, nil
	case crossref.Permanent:
		res.Status, res.Reason = StatusPermanent, errString(out.Err)
		log.Warn().Err(out.Err).Msg("lookup failed")
		return res, nil
	}

	best, score, ok := e.pick(rec, out.Works)
	res.Score = score
	if !ok {
		res.Status, res.Reason = StatusUnmatched, ReasonBelowThreshold
		log.Debug().Float64("score", score).Msg("best candidate below threshold")
		return res, nil
	}
	res.DOI = textnorm.NormalizeDOI(best.DOI)

	p := provenance.NewPatcher(rec,
		provenance.WithBaseConfidence(e.opts.BaseConfidence),
		provenance.WithClock(e.opts.Now),
	)
	conf := math.Min(score, 1)
	values := fieldValues(best)
	for _, path := range missing {
		v, ok := values[path]
		if !ok {
			continue
		}
		d, err := p.Propose(path, provenance.Candidate{
			Value:      v,
			Source:     provenance.SourceCrossref,
			Confidence: conf,
		})
		if err != nil {
			return res, fmt.Errorf("enriching %s: %w", path, err)
		}
		if d.Action == provenance.Overwrite {
			res.Fields = append(res.Fields, strings.TrimPrefix(path, "metadata."))
		}
	}
	res.Patches = p.Applied()
	res.Status = StatusMatched
	if len(res.Patches) > 0 {
		res.Status = StatusEnriched
	}
	return res, nil
}

// Score compares a candidate to a record: title token Jaccard plus small
// bonuses for an equal year and an equal first-author surname.
func Score(rec *record.Record, w crossref.Work) (score float64, yearEq, authorEq bool) {
	score = textnorm.TitleSimilarity(rec.Metadata.Title, w.PrimaryTitle())
	if y := sources.RecordYear(rec); y > 0 && y == w.Year() {
		yearEq = true
		score += YearBonus
	}
	if s := names.Surnames(rec.Metadata.Authors); len(s) > 0 && s[0] != "" && s[0] == textnorm.Surname(w.FirstAuthorFamily()) {
		authorEq = true
		score += AuthorBonus
	}
	return score, yearEq, authorEq
}

// pick returns the highest-scoring candidate and whether it is accepted.
// Ties keep the earlier candidate.
func (e *Enricher) pick(rec *record.Record, works []crossref.Work) (crossref.Work, float64, bool) {
	var (
		best     crossref.Work
		bestSc   = -1.0
		accepted bool
	)
	for _, w := range works {
		sc, yearEq, authorEq := Score(rec, w)
		if sc <= bestSc {
			continue
		}
		best, bestSc = w, sc
		accepted = sc >= e.opts.MinScore || (sc >= e.opts.MinCorroboratedScore && yearEq && authorEq)
	}
	if bestSc < 0 {
		bestSc = 0
	}
	return best, bestSc, accepted
}

// fieldValues maps a work onto record paths. Empty values are left out.
func fieldValues(w crossref.Work) map[string]any {
	out := make(map[string]any)
	set := func(path, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[path] = v
		}
	}
	set("metadata.doi", textnorm.NormalizeDOI(w.DOI))
	if len(w.ShortContainerTitle) > 0 {
		set("metadata.journal", w.ShortContainerTitle[0])
	} else if len(w.ContainerTitle) > 0 {
		set("metadata.journal", w.ContainerTitle[0])
	}
	if len(w.ContainerTitle) > 0 {
		set("metadata.journal_full", w.ContainerTitle[0])
	}
	set("metadata.volume", w.Volume)
	set("metadata.issue", w.Issue)
	set("metadata.pages", w.Page)
	if len(w.ISSN) > 0 {
		set("metadata.issn", w.ISSN[0])
	}
	set("metadata.url", w.URL)
	if y := w.Year(); y > 0 {
		set("metadata.year_norm", strconv.Itoa(y))
	}
	return out
}

// cachedOutcome is the stored form of a definite lookup.
type cachedOutcome struct {
	Status string          `json:"status"`
	Works  []crossref.Work `json:"works,omitempty"`
}

// lookup consults the cache, then the service with retries. Cache failures
// are logged and fall through to a live lookup.
func (e *Enricher) lookup(ctx context.Context, q crossref.Query, log zerolog.Logger) (crossref.Outcome, int, bool) {
	key := cache.Key(q.Signature())

	data, hit, err := e.opts.Cache.Get(ctx, key)
	switch {
	case err != nil:
		e.opts.Metrics.Cache("error")
		log.Warn().Err(err).Msg("cache read failed")
	case hit:
		var c cachedOutcome
		if err := json.Unmarshal(data, &c); err == nil {
			e.opts.Metrics.Cache("hit")
			if c.Status == crossref.Found.String() {
				return crossref.Outcome{Status: crossref.Found, Works: c.Works}, 0, true
			}
			return crossref.Outcome{Status: crossref.NotFound}, 0, true
		}
		e.opts.Metrics.Cache("error")
		log.Warn().Msg("discarding undecodable cache entry")
	default:
		e.opts.Metrics.Cache("miss")
	}

	start := time.Now()
	out, attempts := crossref.Retry(ctx, e.opts.Backoff, func(ctx context.Context) crossref.Outcome {
		return e.search.Search(ctx, q)
	})
	e.opts.Metrics.Lookup(out.Status.String(), time.Since(start).Seconds())

	if out.Status.Cacheable() {
		data, err := json.Marshal(cachedOutcome{Status: out.Status.String(), Works: out.Works})
		if err == nil {
			err = e.opts.Cache.Set(ctx, key, data, e.opts.CacheTTL)
		}
		if err != nil {
			e.opts.Metrics.Cache("error")
			log.Warn().Err(err).Msg("cache write failed")
		}
	}
	return out, attempts, false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
