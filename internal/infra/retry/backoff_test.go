package retry

import (
	"testing"
	"time"
)

func TestBaseDelay(t *testing.T) {
	cfg := Config{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{20, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := BaseDelay(tt.attempt, cfg); got != tt.expected {
			t.Errorf("BaseDelay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestDelay_MonotonicWithCap(t *testing.T) {
	cfg := Config{
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 1.7,
		Jitter:            300 * time.Millisecond,
	}

	var prev time.Duration
	for attempt := 1; attempt <= 30; attempt++ {
		d := Delay(attempt, cfg)
		base := BaseDelay(attempt, cfg)
		jitter := d - base

		if jitter < 0 || jitter >= cfg.Jitter {
			t.Fatalf("attempt %d: jitter %v outside [0, %v)", attempt, jitter, cfg.Jitter)
		}
		if base > cfg.MaxBackoff {
			t.Fatalf("attempt %d: base delay %v exceeds max %v", attempt, base, cfg.MaxBackoff)
		}
		if base < prev {
			t.Fatalf("attempt %d: base delay %v decreased from %v", attempt, base, prev)
		}
		prev = base
	}
}

func TestDelayWith_JitterDraw(t *testing.T) {
	cfg := Config{
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2,
		Jitter:            time.Second,
	}

	got := delayWith(2, cfg, func() float64 { return 0.5 })
	if want := 2*time.Second + 500*time.Millisecond; got != want {
		t.Errorf("delayWith = %v, want %v", got, want)
	}
}
