package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/inboxsync/internal/indexing/metrics"
	"github.com/vietddude/inboxsync/internal/infra/storage"
)

// Pruner deletes stored messages older than the retention period.
type Pruner struct {
	retention time.Duration
	messages  storage.MessageRepository
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. A non-positive retention disables it.
func NewPruner(retention time.Duration, messages storage.MessageRepository) *Pruner {
	return &Pruner{
		retention: retention,
		messages:  messages,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Interval returns how often Start prunes: a tenth of the retention period,
// clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune deletes messages fetched before now minus retention and returns the
// number removed.
func (p *Pruner) Prune(ctx context.Context) int64 {
	if p.retention <= 0 {
		return 0
	}

	cutoff := p.now().Add(-p.retention)
	n, err := p.messages.DeleteFetchedBefore(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune messages", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		metrics.MessagesPruned.Add(float64(n))
		p.log.Info("Pruned old messages", "count", n, "cutoff", cutoff)
	}
	return n
}
