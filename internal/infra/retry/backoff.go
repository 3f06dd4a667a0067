package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// BaseDelay returns the deterministic part of the delay before retry
// number attempt (1-based): InitialBackoff * Multiplier^(attempt-1),
// capped at MaxBackoff.
func BaseDelay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := cfg.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(cfg.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxBackoff > 0 && delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}
	return time.Duration(delay)
}

// Delay returns BaseDelay plus a uniform random jitter in [0, cfg.Jitter).
func Delay(attempt int, cfg Config) time.Duration {
	return delayWith(attempt, cfg, rand.Float64)
}

func delayWith(attempt int, cfg Config, randFn func() float64) time.Duration {
	delay := BaseDelay(attempt, cfg)
	if cfg.Jitter > 0 && randFn != nil {
		delay += time.Duration(randFn() * float64(cfg.Jitter))
	}
	return delay
}
