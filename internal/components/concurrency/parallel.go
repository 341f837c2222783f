package concurrency

import (
	"context"
	"sync"
)

// Options configures a call to Process.
type Options struct {
	// MaxWorkers is the maximum amount of items processed at once, values
	// below 1 are treated as 1.
	MaxWorkers int
}

// Process calls itemFunc for every item using at most opts.MaxWorkers
// goroutines. Results and errors are returned in the same order as items.
//
// Once ctx is done no new items are started, the items that never started
// get ctx.Err() as their error.
func Process[T any, R any](
	ctx context.Context,
	items []T,
	opts Options,
	itemFunc func(ctx context.Context, index int, item T) (R, error),
) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results, errs
	}

	workers := opts.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan int, len(items))
	for i := range items {
		jobs <- i
	}
	close(jobs)

	// every index is written by exactly one worker
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				results[i], errs[i] = itemFunc(ctx, i, items[i])
			}
		}()
	}
	wg.Wait()

	return results, errs
}
