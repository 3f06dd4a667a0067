package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/infra/storage"
)

const queueColumns = `owner_id, natural_id, status, retry_count, last_error, created_at, updated_at, completed_at`

type queueRow struct {
	OwnerID     string         `db:"owner_id"`
	NaturalID   string         `db:"natural_id"`
	Status      string         `db:"status"`
	RetryCount  int            `db:"retry_count"`
	LastError   sql.NullString `db:"last_error"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

func (r queueRow) toDomain() *domain.QueueItem {
	item := &domain.QueueItem{
		NaturalID:  r.NaturalID,
		OwnerID:    r.OwnerID,
		Status:     domain.QueueStatus(r.Status),
		RetryCount: r.RetryCount,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.LastError.Valid {
		msg := r.LastError.String
		item.LastError = &msg
	}
	if r.CompletedAt.Valid {
		at := r.CompletedAt.Time
		item.CompletedAt = &at
	}
	return item
}

type QueueRepo struct {
	db *DB
}

func NewQueueRepo(db *DB) *QueueRepo {
	return &QueueRepo{db: db}
}

var _ storage.QueueRepository = (*QueueRepo)(nil)

func (r *QueueRepo) InsertPending(ctx context.Context, ownerID string, ids []string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	// seq follows array order so ties on created_at claim in listing order.
	query := `
		INSERT INTO sync_queue (owner_id, natural_id, status, retry_count, created_at, updated_at)
		SELECT $1, t.id, 'pending', 0, $3, $3
		FROM unnest($2::text[]) WITH ORDINALITY AS t(id, ord)
		ORDER BY t.ord
		ON CONFLICT (owner_id, natural_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, ownerID, pq.Array(ids), now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert queue items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *QueueRepo) ListByStatus(ctx context.Context, ownerID string, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + `
		FROM sync_queue
		WHERE owner_id = $1 AND status = $2
		ORDER BY created_at ASC, seq ASC`
	args := []any{ownerID, string(status)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	var rows []queueRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	items := make([]*domain.QueueItem, len(rows))
	for i, row := range rows {
		items[i] = row.toDomain()
	}
	return items, nil
}

func (r *QueueRepo) SetStatus(ctx context.Context, ownerID string, ids []string, status domain.QueueStatus, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = $3, updated_at = $4
		WHERE owner_id = $1 AND natural_id = ANY($2)`,
		ownerID, pq.Array(ids), string(status), now)
	return err
}

func (r *QueueRepo) Get(ctx context.Context, ownerID, id string) (*domain.QueueItem, error) {
	var row queueRow
	err := r.db.GetContext(ctx, &row, `SELECT `+queueColumns+`
		FROM sync_queue WHERE owner_id = $1 AND natural_id = $2`, ownerID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *QueueRepo) Update(ctx context.Context, item *domain.QueueItem) error {
	var completedAt sql.NullTime
	if item.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *item.CompletedAt, Valid: true}
	}
	var lastError sql.NullString
	if item.LastError != nil {
		lastError = sql.NullString{String: *item.LastError, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = $3, retry_count = $4, last_error = $5, updated_at = $6, completed_at = $7
		WHERE owner_id = $1 AND natural_id = $2`,
		item.OwnerID, item.NaturalID, string(item.Status), item.RetryCount,
		lastError, item.UpdatedAt, completedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *QueueRepo) Delete(ctx context.Context, ownerID, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE owner_id = $1 AND natural_id = $2`, ownerID, id)
	return err
}

func (r *QueueRepo) MoveStale(ctx context.Context, ownerID string, from, to domain.QueueStatus, before, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = $3, updated_at = $5
		WHERE owner_id = $1 AND status = $2 AND updated_at < $4`,
		ownerID, string(from), string(to), before, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *QueueRepo) DeleteByStatus(ctx context.Context, ownerID string, status domain.QueueStatus) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE owner_id = $1 AND status = $2`, ownerID, string(status))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *QueueRepo) DeleteAll(ctx context.Context, ownerID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *QueueRepo) CountByStatus(ctx context.Context, ownerID string) (map[domain.QueueStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n FROM sync_queue
		WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.QueueStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.QueueStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func (r *QueueRepo) Owners(ctx context.Context) ([]string, error) {
	var owners []string
	err := r.db.SelectContext(ctx, &owners,
		`SELECT DISTINCT owner_id FROM sync_queue ORDER BY owner_id`)
	return owners, err
}
