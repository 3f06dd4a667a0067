// Package retry runs fallible remote calls with exponential backoff.
//
// The executor reports every retry through Config.OnRetry and never keeps
// state of its own, so callers decide what a retry means (for the sync and
// classification pipelines it feeds the admission controller).
package retry

import "time"

// Config defines retry behavior for a single call.
type Config struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            time.Duration // upper bound of the uniform random component

	// IsRetryable decides whether a failure is worth another attempt.
	// Defaults to IsRetryable.
	IsRetryable func(err error) bool

	// IsRateLimit reports whether a failure is specifically a rate-limit
	// signal. Defaults to IsRateLimit.
	IsRateLimit func(err error) bool

	// OnRetry is invoked synchronously before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig provides sensible defaults for remote API calls.
var DefaultConfig = Config{
	MaxRetries:        3,
	InitialBackoff:    1 * time.Second,
	MaxBackoff:        30 * time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            500 * time.Millisecond,
}

// RateLimited reports whether err is a rate-limit signal according to cfg.
func (c Config) RateLimited(err error) bool {
	if c.IsRateLimit != nil {
		return c.IsRateLimit(err)
	}
	return IsRateLimit(err)
}

func (c Config) retryable(err error) bool {
	if c.IsRetryable != nil {
		return c.IsRetryable(err)
	}
	return IsRetryable(err)
}
