package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/infra/source"
	"github.com/vietddude/inboxsync/internal/infra/storage"
)

// SourceStats reports remote API statistics.
type SourceStats interface {
	Stats() source.Stats
}

// DroppedCounter counts items the queue gave up on.
type DroppedCounter interface {
	CountDropped(ctx context.Context, ownerID string) (int, error)
}

// Thresholds decide when an owner's queue counts as degraded or critical.
type Thresholds struct {
	BacklogDegraded  int     // pending rows
	BacklogCritical  int     // pending rows
	FailureRateLimit float64 // source failures / requests
}

// DefaultThresholds returns the thresholds used by the daemon.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BacklogDegraded:  1000,
		BacklogCritical:  10000,
		FailureRateLimit: 0.5,
	}
}

// Monitor aggregates health status from the queue store and the source.
type Monitor struct {
	owners     []string
	queueRepo  storage.QueueRepository
	source     SourceStats    // optional
	dropped    DroppedCounter // optional
	thresholds Thresholds
	cacheFor   time.Duration
	now        func() time.Time
	log        *slog.Logger

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor. Owners seen in the queue store are
// reported in addition to the configured ones.
func NewMonitor(owners []string, queueRepo storage.QueueRepository, src SourceStats, dropped DroppedCounter) *Monitor {
	return &Monitor{
		owners:     owners,
		queueRepo:  queueRepo,
		source:     src,
		dropped:    dropped,
		thresholds: DefaultThresholds(),
		cacheFor:   10 * time.Second,
		now:        time.Now,
		log:        slog.Default().With("component", "health"),
	}
}

// CheckHealth builds a report, reusing the previous one for a few seconds.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && m.now().Sub(m.lastCheck) < m.cacheFor {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Owners:       make(map[string]OwnerHealth),
	}

	if m.source != nil {
		stats := m.source.Stats()
		report.Source = &stats
		report.SystemStatus = worst(report.SystemStatus, m.sourceStatus(stats))
	}

	for _, owner := range m.ownerIDs(ctx) {
		oh := m.checkOwner(ctx, owner)
		report.Owners[owner] = oh
		report.SystemStatus = worst(report.SystemStatus, oh.Status)
	}

	m.lastCheck = m.now()
	m.lastReport = &report
	return report
}

func (m *Monitor) ownerIDs(ctx context.Context) []string {
	seen := make(map[string]struct{}, len(m.owners))
	for _, o := range m.owners {
		seen[o] = struct{}{}
	}
	if stored, err := m.queueRepo.Owners(ctx); err != nil {
		m.log.Warn("Failed to list queue owners", "error", err)
	} else {
		for _, o := range stored {
			seen[o] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for o := range seen {
		ids = append(ids, o)
	}
	sort.Strings(ids)
	return ids
}

func (m *Monitor) checkOwner(ctx context.Context, owner string) OwnerHealth {
	oh := OwnerHealth{OwnerID: owner, Status: StatusHealthy}

	counts, err := m.queueRepo.CountByStatus(ctx, owner)
	if err != nil {
		m.log.Warn("Failed to count queue", "owner", owner, "error", err)
		oh.Status = StatusDegraded
		return oh
	}
	oh.Queue = domain.QueueStats{
		Pending: counts[domain.QueueStatusPending],
		Claimed: counts[domain.QueueStatusClaimed],
		Done:    counts[domain.QueueStatusDone],
		Failed:  counts[domain.QueueStatusFailed],
	}

	if m.dropped != nil {
		if n, err := m.dropped.CountDropped(ctx, owner); err == nil {
			oh.Dropped = n
		}
	}

	switch {
	case oh.Queue.Pending > m.thresholds.BacklogCritical:
		oh.Status = StatusCritical
	case oh.Queue.Pending > m.thresholds.BacklogDegraded || oh.Dropped > 0:
		oh.Status = StatusDegraded
	}
	return oh
}

func (m *Monitor) sourceStatus(stats source.Stats) SystemStatus {
	if stats.RetryAfter > 0 {
		return StatusDegraded
	}
	if stats.Requests >= 10 && float64(stats.Failures)/float64(stats.Requests) > m.thresholds.FailureRateLimit {
		return StatusCritical
	}
	return StatusHealthy
}
