// Package fanout runs independent tasks concurrently and collects a result per
// task. A failing task never cancels its siblings; callers decide how to
// default or fall back for the failures they see.
package fanout

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work producing a value of type T.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the outcome of a single task.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the task succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Run executes tasks with at most limit running at once (limit <= 0 means
// unbounded) and returns one Result per task, in task order.
func Run[T any](ctx context.Context, limit int, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	// Plain group, no derived context: a failed task leaves the rest running.
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, task := range tasks {
		g.Go(func() error {
			v, err := task(ctx)
			results[i] = Result[T]{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// BatchOptions controls Batches.
type BatchOptions struct {
	// Size is the number of items processed concurrently per batch (default 5).
	Size int

	// Delay is the pause between consecutive batches.
	Delay time.Duration

	// Clock is used for the inter-batch delay (default: real clock).
	Clock clockwork.Clock
}

// Batches applies fn to every item in fixed-size batches. Items within a
// batch run concurrently; the next batch starts only after the previous one
// has fully settled and Delay has elapsed. Results are returned in item order.
func Batches[I, T any](ctx context.Context, items []I, opts BatchOptions, fn func(ctx context.Context, item I) (T, error)) []Result[T] {
	size := opts.Size
	if size <= 0 {
		size = 5
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	results := make([]Result[T], 0, len(items))
	for start := 0; start < len(items); start += size {
		if start > 0 && opts.Delay > 0 {
			select {
			case <-clock.After(opts.Delay):
			case <-ctx.Done():
				for range items[start:] {
					results = append(results, Result[T]{Err: ctx.Err()})
				}
				return results
			}
		}

		end := min(start+size, len(items))
		tasks := make([]Task[T], 0, end-start)
		for _, item := range items[start:end] {
			tasks = append(tasks, func(ctx context.Context) (T, error) {
				return fn(ctx, item)
			})
		}
		results = append(results, Run(ctx, size, tasks)...)
	}

	return results
}

// Values returns the values of the successful results and the errors of the
// failed ones.
func Values[T any](results []Result[T]) ([]T, []error) {
	values := make([]T, 0, len(results))
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		values = append(values, r.Value)
	}
	return values, errs
}
