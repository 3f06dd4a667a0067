package source

import (
	"sync"
	"time"
)

// Stats holds monitoring statistics for the remote API.
type Stats struct {
	Requests         int           `json:"requests"`
	Failures         int           `json:"failures"`
	ThrottleCount429 int           `json:"throttle_429"`
	ThrottleCount403 int           `json:"throttle_403"`
	AverageLatency   time.Duration `json:"average_latency"`
	LastThrottle     time.Time     `json:"last_throttle,omitempty"`
	RetryAfter       time.Duration `json:"retry_after"`
}

// Monitor tracks latency and throttling of the remote API.
type Monitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	requests       int
	failures       int
	status429Count int
	status403Count int
	lastThrottle   time.Time
	retryAfter     time.Duration
}

// NewMonitor creates a monitor with a 100-sample latency window.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
	}
}

// RecordRequest records a successful request with its latency.
func (m *Monitor) RecordRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

// RecordFailure records a failed request that was not a throttle.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.failures++
}

// RecordThrottle records a rate limiting or blocking response.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.failures++
	m.lastThrottle = time.Now()
	m.retryAfter = retryAfter

	switch statusCode {
	case 429:
		m.status429Count++
	case 403:
		m.status403Count++
	}
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Requests:         m.requests,
		Failures:         m.failures,
		ThrottleCount429: m.status429Count,
		ThrottleCount403: m.status403Count,
		LastThrottle:     m.lastThrottle,
	}

	if len(m.recentLatencies) > 0 {
		var total time.Duration
		for _, lat := range m.recentLatencies {
			total += lat
		}
		stats.AverageLatency = total / time.Duration(len(m.recentLatencies))
	}

	if m.retryAfter > 0 {
		if remaining := m.retryAfter - time.Since(m.lastThrottle); remaining > 0 {
			stats.RetryAfter = remaining
		}
	}
	return stats
}
