package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestQueueRepo_ListOrderAndDedup(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepo(NewMemoryStorage())

	n, err := repo.InsertPending(ctx, "alice", []string{"b", "a"}, t0)
	if err != nil || n != 2 {
		t.Fatalf("InsertPending = %d, %v", n, err)
	}
	n, _ = repo.InsertPending(ctx, "alice", []string{"a", "c"}, t0)
	if n != 1 {
		t.Errorf("expected only c inserted, got %d", n)
	}

	items, err := repo.ListByStatus(ctx, "alice", domain.QueueStatusPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	var ids []string
	for _, it := range items {
		ids = append(ids, it.NaturalID)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Errorf("expected insertion order [b a c], got %v", ids)
	}

	// Returned rows are copies.
	items[0].Status = domain.QueueStatusDone
	got, _ := repo.Get(ctx, "alice", "b")
	if got.Status != domain.QueueStatusPending {
		t.Errorf("store mutated through returned row: %s", got.Status)
	}
}

func TestMessageRepo_RefetchKeepsClassification(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepo(NewMemoryStorage())

	msg := &domain.Message{OwnerID: "alice", ID: "m1", Subject: "v1", FetchedAt: t0}
	if err := repo.SaveBatch(ctx, []*domain.Message{msg}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	cat := "work"
	err := repo.SaveClassifications(ctx, "alice", []domain.ClassificationOutcome{
		{ItemID: "m1", MatchedCategoryID: &cat, Confidence: 0.8},
	}, t0)
	if err != nil {
		t.Fatalf("SaveClassifications: %v", err)
	}

	refetched := &domain.Message{OwnerID: "alice", ID: "m1", Subject: "v2", FetchedAt: t0.Add(time.Hour)}
	if err := repo.SaveBatch(ctx, []*domain.Message{refetched}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	got, err := repo.Get(ctx, "alice", "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Subject != "v2" || got.CategoryID == nil || *got.CategoryID != "work" || got.ClassifiedAt == nil {
		t.Errorf("unexpected message after refetch: %+v", got)
	}
}

func TestMessageRepo_ListUnclassifiedNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepo(NewMemoryStorage())

	_ = repo.SaveBatch(ctx, []*domain.Message{
		{OwnerID: "alice", ID: "old", ReceivedAt: t0},
		{OwnerID: "alice", ID: "new", ReceivedAt: t0.Add(time.Hour)},
		{OwnerID: "alice", ID: "done", ReceivedAt: t0.Add(2 * time.Hour)},
	})
	_ = repo.SaveClassifications(ctx, "alice", []domain.ClassificationOutcome{{ItemID: "done"}}, t0)

	msgs, err := repo.ListUnclassified(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListUnclassified: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "new" || msgs[1].ID != "old" {
		t.Errorf("unexpected order: %v", msgs)
	}
}
