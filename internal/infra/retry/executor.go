package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Stats describes how a call went.
type Stats struct {
	Attempts   int
	TotalDelay time.Duration
}

// Result is the value returned by Execute along with its Stats.
type Result[T any] struct {
	Value T
	Stats
}

// Retrier runs an operation under a retry policy. Pipelines depend on this
// interface so tests can substitute an executor that does not sleep.
type Retrier interface {
	Do(ctx context.Context, op func(ctx context.Context) error, cfg Config) (Stats, error)
}

// Executor is the production Retrier.
type Executor struct {
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand returns a value in [0, 1) for jitter. Defaults to math/rand/v2.
	Rand func() float64
}

// New returns an Executor with real sleeping and jitter.
func New() *Executor {
	return &Executor{}
}

// Do runs op until it succeeds, the error is not retryable, or
// cfg.MaxRetries retries have been spent. The final error is returned as-is.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error, cfg Config) (Stats, error) {
	var stats Stats

	for attempt := 1; ; attempt++ {
		stats.Attempts = attempt
		err := op(ctx)
		if err == nil {
			return stats, nil
		}

		if attempt > cfg.MaxRetries || !cfg.retryable(err) {
			return stats, err
		}

		delay := delayWith(attempt, cfg, e.randFn())
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}

		if err := e.sleep(ctx, delay); err != nil {
			return stats, err
		}
		stats.TotalDelay += delay
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) randFn() func() float64 {
	if e.Rand != nil {
		return e.Rand
	}
	return rand.Float64
}

// Execute is the typed form of Retrier.Do.
func Execute[T any](
	ctx context.Context,
	r Retrier,
	op func(ctx context.Context) (T, error),
	cfg Config,
) (Result[T], error) {
	var res Result[T]
	stats, err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		res.Value = v
		return nil
	}, cfg)
	res.Stats = stats
	return res, err
}

// NoSleep is a Sleep function that returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
