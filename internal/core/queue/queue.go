// Package queue implements the durable per-owner work queue that backs the
// sync pipeline. Items move pending -> claimed -> done; failures go back to
// pending until MaxRetries is reached, at which point the row is dropped.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/infra/storage"
)

const (
	// MaxRetries is the failure count at which an item is dropped.
	MaxRetries = 5

	// DefaultStaleAfter is how long a claimed item may sit untouched
	// before ResetStale returns it to pending.
	DefaultStaleAfter = 5 * time.Minute
)

var (
	// ErrNotFound is returned when the item is not in the queue.
	ErrNotFound = storage.ErrNotFound

	// ErrNotClaimed is returned by MarkDone for an item that is not claimed.
	ErrNotClaimed = errors.New("queue item not claimed")
)

// FailResult describes what MarkFailed did with an item.
type FailResult struct {
	PermanentlyDropped bool
	RetryCount         int
}

// Queue is the durable queue for a single owner.
//
// ClaimBatch is serialized so concurrent callers in one process never
// receive the same item. Cross-process exclusion is the caller's job
// (see the redis run lock).
type Queue struct {
	repo    storage.QueueRepository
	ownerID string
	now     func() time.Time

	claimMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue for ownerID.
func New(repo storage.QueueRepository, ownerID string, opts ...Option) *Queue {
	q := &Queue{
		repo:    repo,
		ownerID: ownerID,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// OwnerID returns the owner this queue is scoped to.
func (q *Queue) OwnerID() string {
	return q.ownerID
}

// Enqueue adds ids as pending items. Ids already queued, and repeats
// within ids, are skipped and not counted.
func (q *Queue) Enqueue(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	added, err := q.repo.InsertPending(ctx, q.ownerID, unique, q.now())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %d items: %w", len(unique), err)
	}
	return added, nil
}

// ClaimBatch moves up to limit of the oldest pending items to claimed and
// returns them.
func (q *Queue) ClaimBatch(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	items, err := q.repo.ListByStatus(ctx, q.ownerID, domain.QueueStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	now := q.now()
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.NaturalID
	}
	if err := q.repo.SetStatus(ctx, q.ownerID, ids, domain.QueueStatusClaimed, now); err != nil {
		return nil, fmt.Errorf("failed to claim items: %w", err)
	}

	for _, item := range items {
		item.Status = domain.QueueStatusClaimed
		item.UpdatedAt = now
	}
	return items, nil
}

// MarkDone completes a claimed item.
func (q *Queue) MarkDone(ctx context.Context, id string) error {
	item, err := q.get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != domain.QueueStatusClaimed {
		return fmt.Errorf("queue item %s is %s: %w", id, item.Status, ErrNotClaimed)
	}

	now := q.now()
	item.Status = domain.QueueStatusDone
	item.UpdatedAt = now
	item.CompletedAt = &now

	if err := q.repo.Update(ctx, item); err != nil {
		return fmt.Errorf("failed to mark %s done: %w", id, err)
	}
	return nil
}

// Release returns claimed items to pending without counting a failure.
// Used for work claimed but never started before a stop.
func (q *Queue) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.repo.SetStatus(ctx, q.ownerID, ids, domain.QueueStatusPending, q.now()); err != nil {
		return fmt.Errorf("failed to release %d items: %w", len(ids), err)
	}
	return nil
}

// MarkFailed records a failed attempt. The item returns to pending with
// errMsg, or is deleted once its retry count reaches MaxRetries.
func (q *Queue) MarkFailed(ctx context.Context, id string, errMsg string) (FailResult, error) {
	item, err := q.get(ctx, id)
	if err != nil {
		return FailResult{}, err
	}

	item.RetryCount++
	res := FailResult{RetryCount: item.RetryCount}

	if item.RetryCount >= MaxRetries {
		if err := q.repo.Delete(ctx, q.ownerID, id); err != nil {
			return res, fmt.Errorf("failed to drop %s: %w", id, err)
		}
		res.PermanentlyDropped = true
		return res, nil
	}

	item.Status = domain.QueueStatusPending
	item.LastError = &errMsg
	item.UpdatedAt = q.now()

	if err := q.repo.Update(ctx, item); err != nil {
		return res, fmt.Errorf("failed to mark %s failed: %w", id, err)
	}
	return res, nil
}

// ResetStale returns claimed items untouched for longer than staleAfter to
// pending. A non-positive staleAfter uses DefaultStaleAfter.
func (q *Queue) ResetStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := q.now()

	n, err := q.repo.MoveStale(ctx, q.ownerID,
		domain.QueueStatusClaimed, domain.QueueStatusPending, now.Add(-staleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale items: %w", err)
	}
	return n, nil
}

// Stats returns item counts per status.
func (q *Queue) Stats(ctx context.Context) (domain.QueueStats, error) {
	counts, err := q.repo.CountByStatus(ctx, q.ownerID)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("failed to count queue: %w", err)
	}
	return domain.QueueStats{
		Pending: counts[domain.QueueStatusPending],
		Claimed: counts[domain.QueueStatusClaimed],
		Done:    counts[domain.QueueStatusDone],
		Failed:  counts[domain.QueueStatusFailed],
	}, nil
}

// DeleteDone removes completed items.
func (q *Queue) DeleteDone(ctx context.Context) (int, error) {
	n, err := q.repo.DeleteByStatus(ctx, q.ownerID, domain.QueueStatusDone)
	if err != nil {
		return 0, fmt.Errorf("failed to delete done items: %w", err)
	}
	return n, nil
}

// Purge removes every item for the owner regardless of status.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	n, err := q.repo.DeleteAll(ctx, q.ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue: %w", err)
	}
	return n, nil
}

// Get returns a single item.
func (q *Queue) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	return q.get(ctx, id)
}

func (q *Queue) get(ctx context.Context, id string) (*domain.QueueItem, error) {
	item, err := q.repo.Get(ctx, q.ownerID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue item %s: %w", id, err)
	}
	return item, nil
}
