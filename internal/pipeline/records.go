package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/medparse/medparse/internal/record"
	"github.com/medparse/medparse/internal/storage"
)

// Dirs names a stage's input, output and report directories.
type Dirs struct {
	In     string
	Out    string
	Report string
}

// recordStage describes one per-record stage for processDir.
type recordStage[R any] struct {
	name  string
	dirs  Dirs
	write bool // false for dry runs
	limit int

	apply   func(ctx context.Context, file string, rec *record.Record) (R, error)
	failed  func(file string, err error) R
	status  func(R) string
	patches func(R) []record.Patch
}

// processDir runs a stage over every record in dirs.In. Records that fail
// to parse or to process are reported through failed and left out of
// dirs.Out. Only I/O errors on the output side stop the run.
func processDir[R any](ctx context.Context, run *Run, st recordStage[R]) ([]R, error) {
	log := run.stageLogger(st.name)
	names, err := storage.ListRecords(st.dirs.In)
	if err != nil {
		return nil, err
	}
	if st.write {
		if err := os.MkdirAll(st.dirs.Out, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", st.dirs.Out, err)
		}
	}
	log.Info().Int("records", len(names)).Str("in", st.dirs.In).Bool("dry_run", !st.write).Msg("stage started")

	results := make([]R, len(names))
	err = ForEach(ctx, st.limit, names, func(ctx context.Context, i int, name string) error {
		flog := log.With().Str("file", name).Logger()

		rec, err := storage.ReadRecord(st.dirs.In, name)
		if err == nil {
			results[i], err = st.apply(ctx, name, rec)
		}
		if err != nil {
			flog.Warn().Err(err).Msg("record failed, excluded from output")
			results[i] = st.failed(name, err)
			run.Metrics.Record(st.name, st.status(results[i]))
			return nil
		}

		status := st.status(results[i])
		run.Metrics.Record(st.name, status)
		for _, p := range st.patches(results[i]) {
			run.Metrics.Patch(st.name, p.Source)
		}
		flog.Debug().Str("status", status).Msg("record processed")
		if !st.write {
			return nil
		}
		return storage.WriteRecord(st.dirs.Out, name, rec)
	})
	if err != nil {
		return results, fmt.Errorf("%s: %w", st.name, err)
	}
	return results, nil
}

// copyDir copies every readable record in in to out byte for byte and
// returns the total and the names of the records left out as unreadable.
func copyDir(ctx context.Context, log zerolog.Logger, limit int, in, out string) (int, []string, error) {
	names, err := storage.ListRecords(in)
	if err != nil {
		return 0, nil, err
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return 0, nil, fmt.Errorf("creating %s: %w", out, err)
	}
	unreadable := make([]bool, len(names))
	err = ForEach(ctx, limit, names, func(_ context.Context, i int, name string) error {
		if _, err := storage.ReadRecord(in, name); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("unreadable record excluded from output")
			unreadable[i] = true
			return nil
		}
		return storage.CopyRecord(in, out, name)
	})
	var skipped []string
	for i, bad := range unreadable {
		if bad {
			skipped = append(skipped, names[i])
		}
	}
	return len(names), skipped, err
}
