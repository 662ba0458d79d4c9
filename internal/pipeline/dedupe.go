package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/medparse/medparse/internal/dedupe"
	"github.com/medparse/medparse/internal/storage"
)

// Dedupe clusters the whole batch and, when apply is set, writes the
// survivors to dirs.Out. Malformed records are listed in the report and
// left out of dirs.Out.
func (r *Run) Dedupe(ctx context.Context, dirs Dirs, apply bool) (dedupe.Report, error) {
	log := r.stageLogger(StageDedupe)
	names, err := storage.ListRecords(dirs.In)
	if err != nil {
		return dedupe.Report{}, err
	}

	// Clustering is global, so every record is read before any is written.
	items := make([]*dedupe.Item, len(names))
	err = ForEach(ctx, r.workers(), names, func(_ context.Context, i int, name string) error {
		rec, err := storage.ReadRecord(dirs.In, name)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("unreadable record kept out of clustering")
			return nil
		}
		items[i] = &dedupe.Item{File: name, Record: rec}
		return nil
	})
	if err != nil {
		return dedupe.Report{}, fmt.Errorf("%s: %w", StageDedupe, err)
	}

	var parsed []dedupe.Item
	var malformed []string
	for i, it := range items {
		if it == nil {
			malformed = append(malformed, names[i])
			continue
		}
		parsed = append(parsed, *it)
	}

	plan := dedupe.Build(parsed)
	for _, rm := range plan.Removals {
		log.Info().
			Str("removed", rm.Removed).
			Str("survivor", rm.Survivor).
			Str("key", rm.Key).
			Str("reason", rm.Reason).
			Msg("duplicate")
		r.Metrics.Record(StageDedupe, "removed")
	}
	for range plan.Survivors {
		r.Metrics.Record(StageDedupe, "kept")
	}
	for range malformed {
		r.Metrics.Record(StageDedupe, "malformed")
	}

	rep := dedupe.NewReport(r.ID, apply, len(names), malformed, plan)
	if dirs.Report != "" {
		if err := dedupe.WriteReport(dirs.Report, rep); err != nil {
			return rep, err
		}
	}

	if apply {
		if err := os.MkdirAll(dirs.Out, 0755); err != nil {
			return rep, fmt.Errorf("creating %s: %w", dirs.Out, err)
		}
		err := ForEach(ctx, r.workers(), plan.Survivors, func(_ context.Context, _ int, name string) error {
			return storage.CopyRecord(dirs.In, dirs.Out, name)
		})
		if err != nil {
			return rep, fmt.Errorf("%s: %w", StageDedupe, err)
		}
	}

	log.Info().
		Int("total", rep.Total).
		Int("clusters", rep.Clusters).
		Int("removed", rep.Removed).
		Bool("applied", apply).
		Msg("dedupe complete")
	return rep, nil
}
