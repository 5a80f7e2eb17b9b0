package monitor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// executeAll runs fn concurrently for each item and collects results in
// item order, not completion order. limit bounds how many fn calls may run
// concurrently (spec.md §5's "bounded worker pool"); limit <= 0 means
// unbounded. This is a direct generic adaptation of the teacher's
// internal/provider.ExecuteAll[T] helper: same signature shape, same
// "don't fail-fast, always collect every result" contract, specialized
// here to scanning queries instead of calling RPC providers. Context
// cancellation still short-circuits in-flight work inside fn via gctx;
// partially completed scans simply have fewer populated results.
func executeAll[I, T any](ctx context.Context, items []I, limit int, fn func(ctx context.Context, item I) T) []T {
	results := make([]T, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			val := fn(gctx, item)
			mu.Lock()
			results[i] = val
			mu.Unlock()
			return nil // don't fail-fast; collect all results
		})
	}

	_ = g.Wait()
	return results
}
