package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runBatch dispatches fn once per handle in batch, bounded by maxConcurrency
// (0 means unbounded), and waits for all of them. It is the parallel
// engines' shared level-batch / counter-subset dispatch primitive, replacing
// the teacher's hand-rolled WaitGroup-plus-error-channel-plus-semaphore
// pattern with errgroup.Group's equivalent, more compact fan-out/first-error
// semantics.
func runBatch(ctx context.Context, maxConcurrency int, batch []Handle, fn func(context.Context, Handle) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for _, h := range batch {
		h := h
		g.Go(func() error {
			return fn(gctx, h)
		})
	}
	return g.Wait()
}
