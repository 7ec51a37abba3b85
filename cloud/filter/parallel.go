package filter

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const chunkSize = 2048

// ParallelFor calls fn over consecutive index ranges covering [0, n) using
// up to workers goroutines. workers <= 0 means GOMAXPROCS. Each range is
// skipped once ctx is done and the context error is returned.
func ParallelFor(ctx context.Context, n, workers int, fn func(lo, hi int) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	errs, gctx := errgroup.WithContext(ctx)
	errs.SetLimit(workers)
	for lo := 0; lo < n; lo += chunkSize {
		lo, hi := lo, min(lo+chunkSize, n)
		errs.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	if err := errs.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
