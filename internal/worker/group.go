// Package worker provides the fan-out primitives used by the pipeline:
// Settle for per-stage model fan-out and Pool for batch query processing.
package worker

import "context"

// Outcome is the result of one task in a settled group. Err carries the
// task's own failure, or the group context's error when the task had not
// finished by the time the group settled.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Task produces one value or fails.
type Task[T any] func(ctx context.Context) (T, error)

// Settle runs all tasks and returns one outcome per task, in input order
// regardless of completion order. No task failure aborts its siblings.
//
// When parallel is set, all tasks start at once and Settle waits for all
// of them up to ctx's deadline; when the deadline fires, settlement is a
// point-in-time cut: unfinished slots report ctx.Err() and any straggler
// result is discarded. Sequential mode runs tasks one at a time under the
// same deadline.
func Settle[T any](ctx context.Context, parallel bool, tasks []Task[T]) []Outcome[T] {
	outcomes := make([]Outcome[T], len(tasks))
	if len(tasks) == 0 {
		return outcomes
	}

	if !parallel {
		for i, task := range tasks {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome[T]{Err: err}
				continue
			}
			v, err := task(ctx)
			outcomes[i] = Outcome[T]{Value: v, Err: err}
		}
		return outcomes
	}

	type indexed struct {
		i       int
		outcome Outcome[T]
	}
	// Buffered so stragglers finishing after the cut never block.
	results := make(chan indexed, len(tasks))

	for i, task := range tasks {
		go func(i int, task Task[T]) {
			v, err := task(ctx)
			results <- indexed{i: i, outcome: Outcome[T]{Value: v, Err: err}}
		}(i, task)
	}

	done := make(map[int]bool, len(tasks))
	for len(done) < len(tasks) {
		select {
		case res := <-results:
			outcomes[res.i] = res.outcome
			done[res.i] = true
		case <-ctx.Done():
			// The stage has settled: unfinished slots get the context
			// error and late results are never incorporated.
			for i := range tasks {
				if !done[i] {
					outcomes[i] = Outcome[T]{Err: ctx.Err()}
				}
			}
			return outcomes
		}
	}
	return outcomes
}
