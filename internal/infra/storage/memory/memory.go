package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/infra/storage"
)

type queueRow struct {
	item domain.QueueItem
	seq  int64
}

type MemoryStorage struct {
	queue    map[string]map[string]*queueRow // owner -> natural id -> row
	messages map[string]map[string]*domain.Message
	seq      int64
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		queue:    make(map[string]map[string]*queueRow),
		messages: make(map[string]map[string]*domain.Message),
	}
}

// -----------------------------------------------------------------------------
// Queue Repository
// -----------------------------------------------------------------------------

type QueueRepo struct {
	store *MemoryStorage
}

func NewQueueRepo(store *MemoryStorage) *QueueRepo {
	return &QueueRepo{store: store}
}

var _ storage.QueueRepository = (*QueueRepo)(nil)

func (r *QueueRepo) rows(ownerID string) map[string]*queueRow {
	rows, ok := r.store.queue[ownerID]
	if !ok {
		rows = make(map[string]*queueRow)
		r.store.queue[ownerID] = rows
	}
	return rows
}

func (r *QueueRepo) InsertPending(ctx context.Context, ownerID string, ids []string, now time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rows := r.rows(ownerID)
	added := 0
	for _, id := range ids {
		if _, exists := rows[id]; exists {
			continue
		}
		r.store.seq++
		rows[id] = &queueRow{
			seq: r.store.seq,
			item: domain.QueueItem{
				NaturalID: id,
				OwnerID:   ownerID,
				Status:    domain.QueueStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		added++
	}
	return added, nil
}

func (r *QueueRepo) ListByStatus(ctx context.Context, ownerID string, status domain.QueueStatus, limit int) ([]*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var matched []*queueRow
	for _, row := range r.store.queue[ownerID] {
		if row.item.Status == status {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.Before(b.item.CreatedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	items := make([]*domain.QueueItem, len(matched))
	for i, row := range matched {
		items[i] = cloneItem(&row.item)
	}
	return items, nil
}

func (r *QueueRepo) SetStatus(ctx context.Context, ownerID string, ids []string, status domain.QueueStatus, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rows := r.store.queue[ownerID]
	for _, id := range ids {
		if row, ok := rows[id]; ok {
			row.item.Status = status
			row.item.UpdatedAt = now
		}
	}
	return nil
}

func (r *QueueRepo) Get(ctx context.Context, ownerID, id string) (*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	row, ok := r.store.queue[ownerID][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneItem(&row.item), nil
}

func (r *QueueRepo) Update(ctx context.Context, item *domain.QueueItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	row, ok := r.store.queue[item.OwnerID][item.NaturalID]
	if !ok {
		return storage.ErrNotFound
	}
	created := row.item.CreatedAt
	row.item = *cloneItem(item)
	row.item.CreatedAt = created
	return nil
}

func (r *QueueRepo) Delete(ctx context.Context, ownerID, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.queue[ownerID], id)
	return nil
}

func (r *QueueRepo) MoveStale(ctx context.Context, ownerID string, from, to domain.QueueStatus, before, now time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	moved := 0
	for _, row := range r.store.queue[ownerID] {
		if row.item.Status == from && row.item.UpdatedAt.Before(before) {
			row.item.Status = to
			row.item.UpdatedAt = now
			moved++
		}
	}
	return moved, nil
}

func (r *QueueRepo) DeleteByStatus(ctx context.Context, ownerID string, status domain.QueueStatus) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	deleted := 0
	rows := r.store.queue[ownerID]
	for id, row := range rows {
		if row.item.Status == status {
			delete(rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *QueueRepo) DeleteAll(ctx context.Context, ownerID string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	n := len(r.store.queue[ownerID])
	delete(r.store.queue, ownerID)
	return n, nil
}

func (r *QueueRepo) CountByStatus(ctx context.Context, ownerID string) (map[domain.QueueStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	counts := make(map[domain.QueueStatus]int)
	for _, row := range r.store.queue[ownerID] {
		counts[row.item.Status]++
	}
	return counts, nil
}

func (r *QueueRepo) Owners(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var owners []string
	for owner, rows := range r.store.queue {
		if len(rows) > 0 {
			owners = append(owners, owner)
		}
	}
	slices.Sort(owners)
	return owners, nil
}

func cloneItem(item *domain.QueueItem) *domain.QueueItem {
	c := *item
	if item.LastError != nil {
		msg := *item.LastError
		c.LastError = &msg
	}
	if item.CompletedAt != nil {
		at := *item.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// -----------------------------------------------------------------------------
// Message Repository
// -----------------------------------------------------------------------------

type MessageRepo struct {
	store *MemoryStorage
}

func NewMessageRepo(store *MemoryStorage) *MessageRepo {
	return &MessageRepo{store: store}
}

var _ storage.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) SaveBatch(ctx context.Context, msgs []*domain.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, m := range msgs {
		owned, ok := r.store.messages[m.OwnerID]
		if !ok {
			owned = make(map[string]*domain.Message)
			r.store.messages[m.OwnerID] = owned
		}
		c := *m
		c.Labels = slices.Clone(m.Labels)
		// A re-fetch keeps an earlier classification.
		if prev, ok := owned[m.ID]; ok && prev.ClassifiedAt != nil && c.ClassifiedAt == nil {
			c.CategoryID = prev.CategoryID
			c.Confidence = prev.Confidence
			c.ClassifiedAt = prev.ClassifiedAt
		}
		owned[m.ID] = &c
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, ownerID, id string) (*domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	m, ok := r.store.messages[ownerID][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r *MessageRepo) ListUnclassified(ctx context.Context, ownerID string, limit int) ([]*domain.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var msgs []*domain.Message
	for _, m := range r.store.messages[ownerID] {
		if m.ClassifiedAt == nil {
			c := *m
			msgs = append(msgs, &c)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].ReceivedAt.Equal(msgs[j].ReceivedAt) {
			return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (r *MessageRepo) SaveClassifications(ctx context.Context, ownerID string, outcomes []domain.ClassificationOutcome, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	owned := r.store.messages[ownerID]
	for _, o := range outcomes {
		m, ok := owned[o.ItemID]
		if !ok {
			continue
		}
		classifiedAt := at
		m.CategoryID = o.MatchedCategoryID
		m.Confidence = o.Confidence
		m.ClassifiedAt = &classifiedAt
	}
	return nil
}

func (r *MessageRepo) Count(ctx context.Context, ownerID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.messages[ownerID]), nil
}

func (r *MessageRepo) DeleteFetchedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var deleted int64
	for _, owned := range r.store.messages {
		for id, m := range owned {
			if m.FetchedAt.Before(before) {
				delete(owned, id)
				deleted++
			}
		}
	}
	return deleted, nil
}
