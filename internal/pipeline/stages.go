package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/medparse/medparse/internal/audit"
	"github.com/medparse/medparse/internal/crossref"
	"github.com/medparse/medparse/internal/enrich"
	"github.com/medparse/medparse/internal/harden"
	"github.com/medparse/medparse/internal/merge"
	"github.com/medparse/medparse/internal/pdf"
	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/sources"
	"github.com/medparse/medparse/internal/storage"
)

// Audit scores every record in in and writes the quality report to report.
// The input is never modified.
func (r *Run) Audit(ctx context.Context, in, report string) (*audit.Report, error) {
	log := r.stageLogger(StageAudit)
	names, err := storage.ListRecords(in)
	if err != nil {
		return nil, err
	}

	files := make([]audit.FileResult, len(names))
	err = ForEach(ctx, r.workers(), names, func(_ context.Context, i int, name string) error {
		rec, err := storage.ReadRecord(in, name)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("unreadable record")
			files[i] = audit.MalformedResult(name, err)
		} else {
			files[i] = audit.Evaluate(name, rec)
		}
		r.Metrics.Record(StageAudit, files[i].Tier)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageAudit, err)
	}

	rep := audit.NewReport(r.ID, files)
	if report != "" {
		if err := rep.Write(report); err != nil {
			return nil, err
		}
	}
	log.Info().
		Int("total", rep.Summary.Total).
		Int("passed", rep.Summary.Passed).
		Int("malformed", rep.Summary.Malformed).
		Float64("score_mean", rep.Summary.ScoreMean).
		Msg("audit complete")
	return rep, nil
}

// MergeOptions controls a merge run.
type MergeOptions struct {
	DryRun bool
	Strict bool
}

// MergeResult is a merge run's summary. Skipped is set when no sources are
// configured and the records were copied through.
type MergeResult struct {
	merge.Summary
	Skipped    bool     `json:"skipped,omitempty"`
	Violations []string `json:"strict_violations,omitempty"`
}

// HasSources reports whether any external source or override is configured.
func (r *Run) HasSources() bool {
	m := r.Config.Merge
	return len(m.CSL) > 0 || len(m.CSV) > 0 || m.Overrides != ""
}

// Merge reconciles records with the configured sources. A strict run whose
// summary violates the limits returns ErrStrict after writing its report.
func (r *Run) Merge(ctx context.Context, dirs Dirs, opts MergeOptions) (MergeResult, error) {
	log := r.stageLogger(StageMerge)
	if err := storage.CheckDir(dirs.In); err != nil {
		return MergeResult{}, err
	}

	if !r.HasSources() {
		res := MergeResult{Summary: merge.Summary{RunID: r.ID, DryRun: opts.DryRun}, Skipped: true}
		if opts.DryRun {
			return res, nil
		}
		n, skipped, err := copyDir(ctx, log, r.workers(), dirs.In, dirs.Out)
		res.Total, res.Malformed = n, len(skipped)
		log.Info().Int("records", n).Int("malformed", len(skipped)).Msg("no sources configured, records copied through")
		return res, err
	}

	merger, err := r.newMerger()
	if err != nil {
		return MergeResult{}, err
	}
	results, err := processDir(ctx, r, recordStage[merge.Result]{
		name:  StageMerge,
		dirs:  dirs,
		write: !opts.DryRun,
		limit: r.workers(),
		apply: func(_ context.Context, file string, rec *record.Record) (merge.Result, error) {
			return merger.Apply(file, rec)
		},
		failed: func(file string, err error) merge.Result {
			return merge.Result{File: file, Status: merge.StatusMalformed, Error: err.Error()}
		},
		status:  func(res merge.Result) string { return res.Status },
		patches: func(res merge.Result) []record.Patch { return res.Patches },
	})
	if err != nil {
		return MergeResult{}, err
	}

	out := MergeResult{Summary: merge.Summarize(r.ID, opts.DryRun, results)}
	if dirs.Report != "" {
		if err := merge.WriteReport(dirs.Report, out.Summary, results); err != nil {
			return out, err
		}
	}
	log.Info().
		Int("total", out.Total).
		Int("matched", out.MatchedTotal()).
		Int("unmatched", out.Unmatched).
		Int("doi_conflicts", out.DOIConflicts).
		Msg("merge complete")

	if opts.Strict {
		out.Violations = out.StrictViolations(r.Config.Merge.StrictMaxUnmatched)
		if len(out.Violations) > 0 {
			return out, fmt.Errorf("%w: %s", ErrStrict, strings.Join(out.Violations, "; "))
		}
	}
	return out, nil
}

func (r *Run) newMerger() (*merge.Merger, error) {
	log := r.stageLogger(StageMerge)
	var collections [][]sources.Entry

	load := func(paths []string, loader func(string) ([]sources.Entry, []error, error)) error {
		for _, path := range paths {
			entries, bad, err := loader(path)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSources, err)
			}
			for _, e := range bad {
				log.Warn().Err(e).Str("source", path).Msg("skipping source entry")
			}
			log.Info().Int("entries", len(entries)).Str("source", path).Msg("source loaded")
			collections = append(collections, entries)
		}
		return nil
	}
	if err := load(r.Config.Merge.CSL, sources.LoadCSL); err != nil {
		return nil, err
	}
	if err := load(r.Config.Merge.CSV, sources.LoadCSV); err != nil {
		return nil, err
	}

	overrides, err := sources.LoadOverrides(r.Config.Merge.Overrides)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSources, err)
	}

	ix := sources.NewIndex(collections...)
	matcher := merge.NewMatcher(ix, r.Config.Merge.FuzzyThreshold)
	return merge.New(matcher, overrides, merge.WithBaseConfidence(r.Config.BaseConfidence)), nil
}

// Harden runs the offline repairs over every record.
func (r *Run) Harden(ctx context.Context, dirs Dirs, dryRun bool) (harden.Summary, error) {
	log := r.stageLogger(StageHarden)
	cfg := r.Config.Harden

	journals, err := harden.LoadJournalSynonyms(cfg.JournalSynonymsFile)
	if err != nil {
		return harden.Summary{}, err
	}
	h := harden.New(harden.Options{
		FrontMatterChars: cfg.FrontMatterChars,
		MaxAbstractChars: cfg.MaxAbstractChars,
		BaseConfidence:   r.Config.BaseConfidence,
		Journals:         journals,
		PDFs:             pdf.NewLocator(cfg.PDFRoot),
		PDFPages:         cfg.PDFPages,
	})

	results, err := processDir(ctx, r, recordStage[harden.Result]{
		name:  StageHarden,
		dirs:  dirs,
		write: !dryRun,
		limit: r.workers(),
		apply: func(_ context.Context, file string, rec *record.Record) (harden.Result, error) {
			res, err := h.Apply(file, rec)
			for _, w := range res.Warnings {
				log.Warn().Str("file", file).Msg(w)
			}
			return res, err
		},
		failed: func(file string, err error) harden.Result {
			return harden.Result{File: file, Error: err.Error()}
		},
		status: func(res harden.Result) string {
			switch {
			case res.Error != "":
				return "failed"
			case res.Changed():
				return "changed"
			}
			return "unchanged"
		},
		patches: func(res harden.Result) []record.Patch { return res.Patches },
	})
	if err != nil {
		return harden.Summary{}, err
	}

	summary := harden.Summarize(r.ID, dryRun, results)
	if dirs.Report != "" {
		if err := harden.WriteReport(dirs.Report, summary, results); err != nil {
			return summary, err
		}
	}
	log.Info().
		Int("total", summary.Total).
		Int("changed", summary.Changed).
		Int("failed", summary.Failed).
		Int("patches", summary.Patches).
		Msg("hardening complete")
	return summary, nil
}

// Enrich fills missing fields from the online lookup service.
func (r *Run) Enrich(ctx context.Context, dirs Dirs, dryRun bool) (enrich.Summary, error) {
	client, err := r.newSearcher()
	if err != nil {
		return enrich.Summary{}, err
	}
	return r.enrichWith(ctx, client, dirs, dryRun)
}

func (r *Run) newSearcher() (*crossref.Client, error) {
	if err := r.Config.RequireEmail(); err != nil {
		return nil, err
	}
	cfg := r.Config.Enrich
	return crossref.NewClient(cfg.Email,
		crossref.WithHTTPClient(r.HTTP),
		crossref.WithBaseURL(cfg.BaseURL),
		crossref.WithRateLimit(cfg.RateLimit),
	)
}

func (r *Run) enrichWith(ctx context.Context, s enrich.Searcher, dirs Dirs, dryRun bool) (enrich.Summary, error) {
	log := r.stageLogger(StageEnrich)
	cfg := r.Config.Enrich

	lookups, err := r.Cache()
	if err != nil {
		return enrich.Summary{}, fmt.Errorf("opening lookup cache: %w", err)
	}
	e := enrich.New(s, enrich.Options{
		MinScore:             cfg.MinScore,
		MinCorroboratedScore: cfg.MinCorroboratedScore,
		Backoff: crossref.Backoff{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Initial:     cfg.Retry.InitialDelay,
			Multiplier:  cfg.Retry.Multiplier,
			Max:         cfg.Retry.MaxDelay,
		},
		Cache:          lookups,
		CacheTTL:       r.Config.Cache.TTL,
		BaseConfidence: r.Config.BaseConfidence,
		Logger:         log,
		Metrics:        r.Metrics,
	})

	results, err := processDir(ctx, r, recordStage[enrich.Result]{
		name:  StageEnrich,
		dirs:  dirs,
		write: !dryRun,
		limit: cfg.Concurrency,
		apply: e.Apply,
		failed: func(file string, err error) enrich.Result {
			return enrich.Result{File: file, Status: enrich.StatusMalformed, Error: err.Error()}
		},
		status:  func(res enrich.Result) string { return res.Status },
		patches: func(res enrich.Result) []record.Patch { return res.Patches },
	})
	if err != nil {
		return enrich.Summary{}, err
	}

	summary := enrich.Summarize(r.ID, dryRun, results)
	if dirs.Report != "" {
		if err := enrich.WriteReport(dirs.Report, summary, results); err != nil {
			return summary, err
		}
	}
	log.Info().
		Int("total", summary.Total).
		Int("enriched", summary.Statuses[enrich.StatusEnriched]).
		Int("unmatched", summary.Statuses[enrich.StatusUnmatched]).
		Int("cache_hits", summary.CacheHits).
		Msg("enrichment complete")
	return summary, nil
}
