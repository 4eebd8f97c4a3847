// Package worker runs independent, index-addressed jobs on a bounded pool of
// goroutines and reports their outcomes in input order.
package worker

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of the job at Index.
type Result[T any] struct {
	Value   T
	Err     error
	Index   int
	Elapsed time.Duration
}

// ProgressFunc is called after each job completes.
type ProgressFunc func(completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	OnProgress ProgressFunc
	Workers    int
}

// Pool bounds how many jobs run at once.
type Pool struct {
	onProgress ProgressFunc
	workers    int
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		onProgress: cfg.OnProgress,
	}
}

// Workers returns the configured parallelism.
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes fn for every index in [0, n) on p's workers and blocks until all
// jobs finish or ctx is cancelled. The returned slice has exactly n entries and
// results[i] always belongs to index i, whatever order the jobs completed in.
// Jobs that never started because ctx was cancelled carry ctx.Err().
func Run[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, i int) (T, error)) []Result[T] {
	if n <= 0 {
		return nil
	}

	taskCh := make(chan int, n)
	resultCh := make(chan Result[T], n)

	var wg sync.WaitGroup
	for w := 0; w < min(p.workers, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range taskCh {
				resultCh <- runOne(ctx, i, fn)
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for i := 0; i < n; i++ {
			select {
			case taskCh <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]Result[T], n)
	seen := make([]bool, n)
	completed, failed := 0, 0

	for r := range resultCh {
		results[r.Index] = r
		seen[r.Index] = true

		completed++
		if r.Err != nil {
			failed++
		}
		if p.onProgress != nil {
			p.onProgress(completed, n, failed)
		}
	}

	for i := range results {
		if !seen[i] {
			results[i] = Result[T]{Index: i, Err: ctx.Err()}
		}
	}

	return results
}

func runOne[T any](ctx context.Context, i int, fn func(ctx context.Context, i int) (T, error)) Result[T] {
	if err := ctx.Err(); err != nil {
		return Result[T]{Index: i, Err: err}
	}

	start := time.Now()
	v, err := fn(ctx, i)
	return Result[T]{
		Index:   i,
		Value:   v,
		Err:     err,
		Elapsed: time.Since(start),
	}
}
