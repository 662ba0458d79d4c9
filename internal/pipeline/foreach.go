package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach calls fn for every name with at most limit calls in flight. The
// first error cancels the context passed to the remaining calls and is
// returned; per-record failures should be recorded by fn, not returned.
func ForEach(ctx context.Context, limit int, names []string, fn func(ctx context.Context, i int, name string) error) error {
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, i, name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
