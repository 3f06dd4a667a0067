package throttle

import "testing"

func newController(initial, lo, hi, threshold int) *AdmissionController {
	return NewAdmissionController(Config{
		Initial:          initial,
		Min:              lo,
		Max:              hi,
		SuccessThreshold: threshold,
	})
}

func TestNewAdmissionController_Defaults(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected int
	}{
		{"initial defaults to max", Config{Min: 2, Max: 30}, 30},
		{"initial clamped to max", Config{Initial: 100, Min: 1, Max: 10}, 10},
		{"initial clamped to min", Config{Initial: -1, Min: 4, Max: 3}, 4},
		{"explicit initial", Config{Initial: 7, Min: 1, Max: 10}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAdmissionController(tt.cfg)
			if got := c.Concurrency(); got != tt.expected {
				t.Errorf("Concurrency() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestAdmission_StaysWithinBounds(t *testing.T) {
	c := newController(10, 2, 20, 1)

	ops := []func(){
		c.RecordSuccess,
		func() { c.RecordError(true) },
		func() { c.RecordError(false) },
		c.Reset,
	}

	// Deterministic pseudo-random walk over all operations.
	seed := uint32(7)
	for i := 0; i < 5000; i++ {
		seed = seed*1103515245 + 12345
		ops[(seed>>16)%uint32(len(ops))]()

		if got := c.Concurrency(); got < 2 || got > 20 {
			t.Fatalf("step %d: concurrency %d outside [2, 20]", i, got)
		}
	}
}

func TestAdmission_RateLimitHalves(t *testing.T) {
	tests := []struct {
		current  int
		min      int
		expected int
	}{
		{20, 1, 10},
		{9, 1, 4},
		{3, 2, 2},
		{1, 1, 1},
	}

	for _, tt := range tests {
		c := newController(tt.current, tt.min, 50, 20)
		c.RecordError(true)
		if got := c.Concurrency(); got != tt.expected {
			t.Errorf("RecordError(true) from %d (min %d) = %d, want %d",
				tt.current, tt.min, got, tt.expected)
		}
	}
}

func TestAdmission_GrowthRequiresSustainedSuccess(t *testing.T) {
	c := newController(10, 1, 50, 20)

	for i := 0; i < 19; i++ {
		c.RecordSuccess()
	}
	if got := c.Concurrency(); got != 10 {
		t.Fatalf("after 19 successes: concurrency = %d, want 10", got)
	}

	c.RecordSuccess()
	if got := c.Concurrency(); got != 15 {
		t.Fatalf("after 20 successes: concurrency = %d, want 15", got)
	}

	// Any error in between restarts the streak.
	for i := 0; i < 19; i++ {
		c.RecordSuccess()
	}
	c.RecordError(false)
	for i := 0; i < 19; i++ {
		c.RecordSuccess()
	}
	if got := c.Concurrency(); got != 15 {
		t.Errorf("interrupted streak: concurrency = %d, want 15", got)
	}
}

func TestAdmission_GrowthCappedAtMax(t *testing.T) {
	c := newController(48, 1, 50, 1)
	c.RecordSuccess()
	if got := c.Concurrency(); got != 50 {
		t.Errorf("concurrency = %d, want 50", got)
	}
	c.RecordSuccess()
	if got := c.Concurrency(); got != 50 {
		t.Errorf("concurrency = %d, want 50", got)
	}
}

func TestAdmission_ErrorStreak(t *testing.T) {
	c := newController(20, 1, 50, 20)

	c.RecordError(false)
	c.RecordError(false)
	if got := c.Concurrency(); got != 20 {
		t.Fatalf("after 2 errors: concurrency = %d, want 20", got)
	}

	c.RecordError(false)
	if got := c.Concurrency(); got != 15 {
		t.Fatalf("after 3 errors: concurrency = %d, want 15", got)
	}

	// Streak counter was reset; two more errors do nothing.
	c.RecordError(false)
	c.RecordError(false)
	if got := c.Concurrency(); got != 15 {
		t.Fatalf("after 5 errors: concurrency = %d, want 15", got)
	}

	c.RecordError(false)
	if got := c.Concurrency(); got != 10 {
		t.Errorf("after 6 errors: concurrency = %d, want 10", got)
	}
}

func TestAdmission_ErrorStreakFloor(t *testing.T) {
	c := newController(3, 2, 50, 20)
	for i := 0; i < 3; i++ {
		c.RecordError(false)
	}
	if got := c.Concurrency(); got != 2 {
		t.Errorf("concurrency = %d, want 2", got)
	}
}

func TestAdmission_Reset(t *testing.T) {
	c := newController(40, 1, 40, 2)
	c.RecordError(true)
	c.RecordSuccess()
	c.Reset()

	if got := c.Concurrency(); got != 40 {
		t.Fatalf("after reset: concurrency = %d, want 40", got)
	}

	// The success streak was cleared: one success does not grow past max,
	// and one error after reset does not complete a streak.
	c.RecordError(false)
	c.RecordError(false)
	if got := c.Concurrency(); got != 40 {
		t.Errorf("after reset + 2 errors: concurrency = %d, want 40", got)
	}
}

func TestAdmission_OnChange(t *testing.T) {
	c := newController(10, 1, 20, 20)

	var seen []int
	c.OnChange(func(current int) { seen = append(seen, current) })
	c.RecordError(true)
	c.RecordError(true)
	c.Reset()

	expected := []int{10, 5, 2, 20}
	if len(seen) != len(expected) {
		t.Fatalf("OnChange calls = %v, want %v", seen, expected)
	}
	for i := range expected {
		if seen[i] != expected[i] {
			t.Errorf("OnChange[%d] = %d, want %d", i, seen[i], expected[i])
		}
	}
}
