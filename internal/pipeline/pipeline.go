package pipeline

import (
	"context"
	"path/filepath"

	"github.com/medparse/medparse/internal/audit"
	"github.com/medparse/medparse/internal/dedupe"
	"github.com/medparse/medparse/internal/enrich"
	"github.com/medparse/medparse/internal/harden"
	"github.com/medparse/medparse/internal/storage"
)

// Options controls a full pipeline run.
type Options struct {
	Offline bool // skip online enrichment
	Strict  bool // strict merge limits
}

// Layout is the directory structure under a work directory.
type Layout struct {
	Baseline string `json:"baseline"`
	Merged   string `json:"merged"`
	Hardened string `json:"hardened"`
	Enriched string `json:"enriched"`
	Deduped  string `json:"deduped"`
	Final    string `json:"final"`
	Reports  string `json:"reports"`
}

// NewLayout returns the stage directories under work.
func NewLayout(work string) Layout {
	reports := filepath.Join(work, "reports")
	return Layout{
		Baseline: filepath.Join(reports, "baseline"),
		Merged:   filepath.Join(work, "merged"),
		Hardened: filepath.Join(work, "hardened"),
		Enriched: filepath.Join(work, "enriched"),
		Deduped:  filepath.Join(work, "deduped"),
		Final:    filepath.Join(reports, "final"),
		Reports:  reports,
	}
}

func (l Layout) report(stage string) string {
	return filepath.Join(l.Reports, stage)
}

// Summary is the outcome of a full pipeline run.
type Summary struct {
	RunID    string              `json:"run_id"`
	Layout   Layout              `json:"layout"`
	Baseline audit.Summary       `json:"baseline"`
	Merge    MergeResult         `json:"merge"`
	Harden   harden.Summary      `json:"harden"`
	Enrich   *enrich.Summary     `json:"enrich,omitempty"`
	Dedupe   dedupe.Report       `json:"dedupe"`
	Final    audit.Summary       `json:"final"`
	Gates    []audit.GateFailure `json:"gate_failures,omitempty"`
}

// SummaryFile is the pipeline summary written under the reports directory.
const SummaryFile = "pipeline_summary.json"

// Pipeline runs every stage in order from in to the work directory. A
// missing stage input stops the run; per-record failures do not.
func (r *Run) Pipeline(ctx context.Context, in, work string, opts Options) (Summary, error) {
	l := NewLayout(work)
	s := Summary{RunID: r.ID, Layout: l}
	log := r.Logger.With().Str("work", work).Logger()

	if err := storage.CheckDir(in); err != nil {
		return s, err
	}

	baseline, err := r.Audit(ctx, in, l.Baseline)
	if err != nil {
		return s, err
	}
	s.Baseline = baseline.Summary

	s.Merge, err = r.Merge(ctx, Dirs{In: in, Out: l.Merged, Report: l.report(StageMerge)}, MergeOptions{Strict: opts.Strict})
	if err != nil {
		return s, err
	}

	s.Harden, err = r.Harden(ctx, Dirs{In: l.Merged, Out: l.Hardened, Report: l.report(StageHarden)}, false)
	if err != nil {
		return s, err
	}

	dedupeIn := l.Hardened
	if opts.Offline {
		log.Info().Msg("offline run, skipping enrichment")
	} else {
		es, err := r.Enrich(ctx, Dirs{In: l.Hardened, Out: l.Enriched, Report: l.report(StageEnrich)}, false)
		if err != nil {
			return s, err
		}
		s.Enrich = &es
		dedupeIn = l.Enriched
	}

	s.Dedupe, err = r.Dedupe(ctx, Dirs{In: dedupeIn, Out: l.Deduped, Report: l.report(StageDedupe)}, true)
	if err != nil {
		return s, err
	}

	final, err := r.Audit(ctx, l.Deduped, l.Final)
	if err != nil {
		return s, err
	}
	s.Final = final.Summary
	s.Gates = audit.CheckGates(final.Summary, r.Config.Gates)

	if err := storage.WriteJSON(l.Reports, SummaryFile, s); err != nil {
		return s, err
	}
	log.Info().
		Float64("baseline_mean", s.Baseline.ScoreMean).
		Float64("final_mean", s.Final.ScoreMean).
		Int("removed", s.Dedupe.Removed).
		Int("gate_failures", len(s.Gates)).
		Msg("pipeline complete")
	return s, nil
}
