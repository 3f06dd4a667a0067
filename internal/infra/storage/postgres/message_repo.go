package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/infra/storage"
)

const messageColumns = `owner_id, id, thread_id, subject, sender, snippet, body, labels,
	received_at, fetched_at, category_id, confidence, classified_at`

type MessageRepo struct {
	db *DB
}

func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ storage.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) SaveBatch(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.SaveMessages(ctx, msgs); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit message batch: %w", err)
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, ownerID, id string) (*domain.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+`
		FROM messages WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *MessageRepo) ListUnclassified(ctx context.Context, ownerID string, limit int) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE owner_id = $1 AND classified_at IS NULL
		ORDER BY received_at DESC, id ASC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list unclassified messages: %w", err)
	}

	msgs := make([]*domain.Message, len(rows))
	for i, row := range rows {
		msgs[i] = row.toDomain()
	}
	return msgs, nil
}

func (r *MessageRepo) SaveClassifications(ctx context.Context, ownerID string, outcomes []domain.ClassificationOutcome, at time.Time) error {
	if len(outcomes) == 0 {
		return nil
	}

	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.ApplyClassifications(ctx, ownerID, outcomes, at); err != nil {
		return err
	}
	return uow.Commit()
}

func (r *MessageRepo) Count(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE owner_id = $1`, ownerID)
	return n, err
}

func (r *MessageRepo) DeleteFetchedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE fetched_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
