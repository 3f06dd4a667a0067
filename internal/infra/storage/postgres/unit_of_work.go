package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/indexing/metrics"
)

// UnitOfWork bundles persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

type messageRow struct {
	OwnerID      string         `db:"owner_id"`
	ID           string         `db:"id"`
	ThreadID     string         `db:"thread_id"`
	Subject      string         `db:"subject"`
	Sender       string         `db:"sender"`
	Snippet      string         `db:"snippet"`
	Body         string         `db:"body"`
	Labels       pq.StringArray `db:"labels"`
	ReceivedAt   time.Time      `db:"received_at"`
	FetchedAt    time.Time      `db:"fetched_at"`
	CategoryID   sql.NullString `db:"category_id"`
	Confidence   float64        `db:"confidence"`
	ClassifiedAt sql.NullTime   `db:"classified_at"`
}

func newMessageRow(m *domain.Message) messageRow {
	row := messageRow{
		OwnerID:    m.OwnerID,
		ID:         m.ID,
		ThreadID:   m.ThreadID,
		Subject:    m.Subject,
		Sender:     m.Sender,
		Snippet:    m.Snippet,
		Body:       m.Body,
		Labels:     pq.StringArray(m.Labels),
		ReceivedAt: m.ReceivedAt,
		FetchedAt:  m.FetchedAt,
		Confidence: m.Confidence,
	}
	if row.Labels == nil {
		row.Labels = pq.StringArray{}
	}
	if m.CategoryID != nil {
		row.CategoryID = sql.NullString{String: *m.CategoryID, Valid: true}
	}
	if m.ClassifiedAt != nil {
		row.ClassifiedAt = sql.NullTime{Time: *m.ClassifiedAt, Valid: true}
	}
	return row
}

func (r messageRow) toDomain() *domain.Message {
	m := &domain.Message{
		OwnerID:    r.OwnerID,
		ID:         r.ID,
		ThreadID:   r.ThreadID,
		Subject:    r.Subject,
		Sender:     r.Sender,
		Snippet:    r.Snippet,
		Body:       r.Body,
		Labels:     []string(r.Labels),
		ReceivedAt: r.ReceivedAt,
		FetchedAt:  r.FetchedAt,
		Confidence: r.Confidence,
	}
	if r.CategoryID.Valid {
		id := r.CategoryID.String
		m.CategoryID = &id
	}
	if r.ClassifiedAt.Valid {
		at := r.ClassifiedAt.Time
		m.ClassifiedAt = &at
	}
	return m
}

// SaveMessages upserts messages in the transaction. Existing rows keep
// their classification.
func (u *UnitOfWork) SaveMessages(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	stmt, err := u.tx.PrepareNamedContext(ctx, `
		INSERT INTO messages (
			owner_id, id, thread_id, subject, sender, snippet, body, labels,
			received_at, fetched_at, category_id, confidence, classified_at
		) VALUES (
			:owner_id, :id, :thread_id, :subject, :sender, :snippet, :body, :labels,
			:received_at, :fetched_at, :category_id, :confidence, :classified_at
		)
		ON CONFLICT (owner_id, id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			subject = EXCLUDED.subject,
			sender = EXCLUDED.sender,
			snippet = EXCLUDED.snippet,
			body = EXCLUDED.body,
			labels = EXCLUDED.labels,
			received_at = EXCLUDED.received_at,
			fetched_at = EXCLUDED.fetched_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, newMessageRow(m)); err != nil {
			return fmt.Errorf("failed to save message %s: %w", m.ID, err)
		}
	}

	// Record batch size metric
	metrics.DBBatchSize.WithLabelValues("save_messages").Observe(float64(len(msgs)))
	return nil
}

// ApplyClassifications stamps classification results in the transaction.
func (u *UnitOfWork) ApplyClassifications(ctx context.Context, ownerID string, outcomes []domain.ClassificationOutcome, at time.Time) error {
	if len(outcomes) == 0 {
		return nil
	}

	stmt, err := u.tx.PreparexContext(ctx, `
		UPDATE messages SET category_id = $3, confidence = $4, classified_at = $5
		WHERE owner_id = $1 AND id = $2`)
	if err != nil {
		return fmt.Errorf("failed to prepare classification update: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		var category sql.NullString
		if o.MatchedCategoryID != nil {
			category = sql.NullString{String: *o.MatchedCategoryID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, ownerID, o.ItemID, category, o.Confidence, at); err != nil {
			return fmt.Errorf("failed to classify message %s: %w", o.ItemID, err)
		}
	}

	metrics.DBBatchSize.WithLabelValues("apply_classifications").Observe(float64(len(outcomes)))
	return nil
}
