package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
)

var (
	// ErrNotFound is returned when a row doesn't exist
	ErrNotFound = errors.New("not found")
)

// QueueRepository handles rows of the durable sync queue.
// All operations are scoped to one owner.
type QueueRepository interface {
	// InsertPending inserts pending rows for ids, skipping ids that already
	// exist for the owner. Returns the number of rows inserted.
	InsertPending(ctx context.Context, ownerID string, ids []string, now time.Time) (int, error)

	// ListByStatus returns up to limit rows in the given status, oldest
	// first, ties broken by insertion order.
	ListByStatus(ctx context.Context, ownerID string, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error)

	// SetStatus moves the given rows to status and stamps updated_at.
	SetStatus(ctx context.Context, ownerID string, ids []string, status domain.QueueStatus, now time.Time) error

	// Get retrieves a single row. Returns ErrNotFound if missing.
	Get(ctx context.Context, ownerID, id string) (*domain.QueueItem, error)

	// Update writes status, retry count, last error and timestamps of item.
	Update(ctx context.Context, item *domain.QueueItem) error

	// Delete removes a single row.
	Delete(ctx context.Context, ownerID, id string) error

	// MoveStale moves rows in status from whose updated_at is before the
	// cutoff to status to. Returns the number of rows moved.
	MoveStale(ctx context.Context, ownerID string, from, to domain.QueueStatus, before, now time.Time) (int, error)

	// DeleteByStatus removes every row in status.
	DeleteByStatus(ctx context.Context, ownerID string, status domain.QueueStatus) (int, error)

	// DeleteAll removes every row for the owner.
	DeleteAll(ctx context.Context, ownerID string) (int, error)

	// CountByStatus returns row counts grouped by status.
	CountByStatus(ctx context.Context, ownerID string) (map[domain.QueueStatus]int, error)

	// Owners lists owners with at least one queued row.
	Owners(ctx context.Context) ([]string, error)
}

// MessageRepository handles fetched message storage
type MessageRepository interface {
	// SaveBatch upserts messages atomically
	SaveBatch(ctx context.Context, msgs []*domain.Message) error

	// Get retrieves a message. Returns ErrNotFound if missing.
	Get(ctx context.Context, ownerID, id string) (*domain.Message, error)

	// ListUnclassified returns up to limit messages never classified,
	// newest first.
	ListUnclassified(ctx context.Context, ownerID string, limit int) ([]*domain.Message, error)

	// SaveClassifications stamps classification results atomically.
	// A nil MatchedCategoryID records "classified, no match".
	SaveClassifications(ctx context.Context, ownerID string, outcomes []domain.ClassificationOutcome, at time.Time) error

	// Count returns the number of stored messages for the owner.
	Count(ctx context.Context, ownerID string) (int, error)

	// DeleteFetchedBefore removes messages fetched before the cutoff
	// across all owners.
	DeleteFetchedBefore(ctx context.Context, before time.Time) (int64, error)
}
