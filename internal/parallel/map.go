// Package parallel runs independent calls with bounded concurrency.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map calls f for every element of in, at most limit at a time, and returns
// the results in input order. The first error cancels the context passed to
// the remaining calls and is returned.
func Map[E, D any](ctx context.Context, limit int, in []E, f func(context.Context, E) (D, error)) ([]D, error) {
	if limit < 1 {
		limit = 1
	}
	out := make([]D, len(in))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, e := range in {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := f(gctx, e)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
