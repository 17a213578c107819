// Package batch runs independent per-item work with bounded parallelism.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Each calls fn once per index in [0, n) with at most limit calls in flight.
// Items never stop each other; fn reports its own outcome. limit <= 1 runs sequentially in order.
func Each(ctx context.Context, n, limit int, fn func(ctx context.Context, i int)) {
	if limit <= 1 {
		for i := 0; i < n; i++ {
			fn(ctx, i)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}
