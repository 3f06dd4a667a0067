// Package pool runs a slice of tasks with a concurrency limit that may
// change while the tasks run.
package pool

import "context"

// Task configures a single Run.
type Task[T, R any] struct {
	// Limit returns the maximum number of tasks in flight. It is read
	// before every start, so changes take effect on the next decision.
	// Values below 1 are treated as 1.
	Limit func() int

	// Stop reports whether new tasks should no longer start. Tasks already
	// in flight run to completion. Optional.
	Stop func() bool

	// Start is called on the goroutine that called Run just before item's
	// Work is launched. Optional.
	Start func(item T)

	// Work processes one item on its own goroutine.
	Work func(ctx context.Context, item T) R

	// Done receives each result on the goroutine that called Run, one at a
	// time, in completion order. Optional.
	Done func(item T, result R)
}

type completion[R any] struct {
	idx int
	res R
}

// Run processes items and returns how many were started. It returns once
// every started task has completed and been handed to Done. A cancelled
// ctx stops new starts the same way Stop does.
func Run[T, R any](ctx context.Context, items []T, task Task[T, R]) int {
	results := make(chan completion[R])
	inFlight, next := 0, 0

	stopped := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return task.Stop != nil && task.Stop()
	}

	for {
		for next < len(items) && inFlight < limitOf(task.Limit) && !stopped() {
			idx := next
			next++
			inFlight++
			if task.Start != nil {
				task.Start(items[idx])
			}
			go func() {
				results <- completion[R]{idx: idx, res: task.Work(ctx, items[idx])}
			}()
		}

		if inFlight == 0 {
			return next
		}

		c := <-results
		inFlight--
		if task.Done != nil {
			task.Done(items[c.idx], c.res)
		}
	}
}

func limitOf(fn func() int) int {
	if fn == nil {
		return 1
	}
	return max(fn(), 1)
}
