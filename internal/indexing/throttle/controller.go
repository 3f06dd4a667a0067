package throttle

import "sync"

// AdmissionController tracks how many tasks a pipeline may have in flight.
// Successes grow the level slowly, rate-limit signals halve it at once and
// streaks of other errors shrink it by Step.
//
// It is safe for concurrent use; workers report from their own goroutines.
type AdmissionController struct {
	mu sync.Mutex

	current int
	min     int
	max     int

	successThreshold     int
	consecutiveSuccesses int
	consecutiveErrors    int

	onChange func(current int)
}

// NewAdmissionController creates a controller from cfg.
func NewAdmissionController(cfg Config) *AdmissionController {
	cfg = cfg.normalize()
	return &AdmissionController{
		current:          cfg.Initial,
		min:              cfg.Min,
		max:              cfg.Max,
		successThreshold: cfg.SuccessThreshold,
	}
}

// OnChange registers fn to be called with the new level whenever it moves.
// fn runs while the controller lock is held and must not call back into it.
func (c *AdmissionController) OnChange(fn func(current int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
	if fn != nil {
		fn(c.current)
	}
}

// Concurrency returns the current admission level.
func (c *AdmissionController) Concurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// RecordSuccess counts a first-attempt success.
func (c *AdmissionController) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveErrors = 0
	c.consecutiveSuccesses++
	if c.consecutiveSuccesses >= c.successThreshold {
		c.consecutiveSuccesses = 0
		c.set(min(c.current+Step, c.max))
	}
}

// RecordError counts a failed attempt. Rate-limit errors halve the level
// immediately; others decrease it by Step every ErrorThreshold in a row.
func (c *AdmissionController) RecordError(isRateLimit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveSuccesses = 0
	c.consecutiveErrors++

	if isRateLimit {
		c.set(max(c.current/2, c.min))
		return
	}

	if c.consecutiveErrors >= ErrorThreshold {
		c.consecutiveErrors = 0
		c.set(max(c.current-Step, c.min))
	}
}

// Reset restores the maximum level and clears both streaks.
func (c *AdmissionController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveSuccesses = 0
	c.consecutiveErrors = 0
	c.set(c.max)
}

// Bounds returns the configured min and max.
func (c *AdmissionController) Bounds() (int, int) {
	return c.min, c.max
}

func (c *AdmissionController) set(level int) {
	if level == c.current {
		return
	}
	c.current = level
	if c.onChange != nil {
		c.onChange(level)
	}
}
