package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/core/queue"
	"github.com/vietddude/inboxsync/internal/indexing/throttle"
	"github.com/vietddude/inboxsync/internal/infra/retry"
	"github.com/vietddude/inboxsync/internal/infra/storage/memory"
)

// =============================================================================
// Fakes
// =============================================================================

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) StatusCode() int { return e.code }

type fakeSource struct {
	mu sync.Mutex

	pages    map[string]ListPage // by page token
	listErrs map[string]error    // by page token

	getErrs map[string][]error // consumed one per call
	failing map[string]error   // returned on every call

	queries []string
	gets    map[string]int

	idPrefix string // prepended to the id of every fetched message
}

func newFakeSource(ids ...[]string) *fakeSource {
	s := &fakeSource{
		pages:    make(map[string]ListPage),
		listErrs: make(map[string]error),
		getErrs:  make(map[string][]error),
		failing:  make(map[string]error),
		gets:     make(map[string]int),
	}
	for i, page := range ids {
		token := ""
		if i > 0 {
			token = fmt.Sprintf("page-%d", i)
		}
		next := ""
		if i < len(ids)-1 {
			next = fmt.Sprintf("page-%d", i+1)
		}
		s.pages[token] = ListPage{IDs: page, NextPageToken: next}
	}
	return s
}

func (s *fakeSource) List(ctx context.Context, req ListRequest) (ListPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = append(s.queries, req.Query)
	if err, ok := s.listErrs[req.PageToken]; ok {
		return ListPage{}, err
	}
	page := s.pages[req.PageToken]
	if req.MaxResults > 0 && len(page.IDs) > req.MaxResults {
		page.IDs = page.IDs[:req.MaxResults]
	}
	return page, nil
}

func (s *fakeSource) Get(ctx context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets[id]++
	if err, ok := s.failing[id]; ok {
		return nil, err
	}
	if errs := s.getErrs[id]; len(errs) > 0 {
		s.getErrs[id] = errs[1:]
		return nil, errs[0]
	}
	return &domain.Message{
		ID:         s.idPrefix + id,
		Subject:    "subject " + id,
		ReceivedAt: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (s *fakeSource) getCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[id]
}

type flakyMessages struct {
	*memory.MessageRepo
	mu       sync.Mutex
	failures int
}

func (m *flakyMessages) SaveBatch(ctx context.Context, msgs []*domain.Message) error {
	m.mu.Lock()
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return errors.New("disk full")
	}
	m.mu.Unlock()
	return m.MessageRepo.SaveBatch(ctx, msgs)
}

type fakeLocker struct {
	err      error
	locked   int
	unlocked int
}

func (l *fakeLocker) Lock(ctx context.Context, ownerID string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked++
	return func() { l.unlocked++ }, nil
}

var testNow = time.Date(2024, 3, 31, 10, 0, 0, 0, time.UTC)

type harness struct {
	source   *fakeSource
	store    *memory.MemoryStorage
	queue    *queue.Queue
	messages *memory.MessageRepo
}

func newHarness(source *fakeSource) *harness {
	store := memory.NewMemoryStorage()
	return &harness{
		source:   source,
		store:    store,
		queue:    queue.New(memory.NewQueueRepo(store), "alice", queue.WithClock(func() time.Time { return testNow })),
		messages: memory.NewMessageRepo(store),
	}
}

func (h *harness) pipeline(cfg Config, mutate func(*Deps)) *Pipeline {
	deps := Deps{
		Source:   h.source,
		Queue:    h.queue,
		Messages: h.messages,
		Retrier:  &retry.Executor{Sleep: retry.NoSleep},
		Now:      func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	return New(cfg, deps)
}

func testConfig() Config {
	cfg := DefaultConfig("alice")
	cfg.BatchSize = 3
	cfg.Admission = throttle.Config{Min: 1, Max: 4, SuccessThreshold: 2}
	return cfg
}

// =============================================================================
// Tests
// =============================================================================

func TestStartSync_ListsAndSyncsEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newFakeSource([]string{"a", "b", "c"}, []string{"d", "e"}))

	var stages []domain.SyncStage
	p := h.pipeline(testConfig(), func(d *Deps) {
		d.OnProgress = func(pr domain.SyncProgress) {
			if len(stages) == 0 || stages[len(stages)-1] != pr.Stage {
				stages = append(stages, pr.Stage)
			}
		}
	})

	final, err := p.StartSync(ctx)
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}

	if final.Stage != domain.SyncStageComplete || p.Stage() != domain.SyncStageComplete {
		t.Errorf("expected complete, got %s", final.Stage)
	}
	if final.Queued != 5 || final.Synced != 5 || final.Failed != 0 {
		t.Errorf("unexpected progress: %+v", final)
	}
	if final.Batch != 2 {
		t.Errorf("expected 2 batches of size 3, got %d", final.Batch)
	}

	expectedStages := []domain.SyncStage{
		domain.SyncStageIdle, domain.SyncStageListing, domain.SyncStageSyncing, domain.SyncStageComplete,
	}
	if fmt.Sprint(stages) != fmt.Sprint(expectedStages) {
		t.Errorf("stages = %v, want %v", stages, expectedStages)
	}

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		msg, err := h.messages.Get(ctx, "alice", id)
		if err != nil {
			t.Errorf("message %s not stored: %v", id, err)
			continue
		}
		if msg.OwnerID != "alice" || !msg.FetchedAt.Equal(testNow) {
			t.Errorf("message %s: unexpected owner/fetched_at %s/%v", id, msg.OwnerID, msg.FetchedAt)
		}
	}

	// Done rows are cleaned up after a full drain.
	stats, _ := h.queue.Stats(ctx)
	if stats.Total() != 0 {
		t.Errorf("expected empty queue after drain, got %+v", stats)
	}

	if len(h.source.queries) == 0 || h.source.queries[0] != "after:2024/03/01" {
		t.Errorf("unexpected listing query: %v", h.source.queries)
	}
}

func TestStartSync_QueryOptions(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		syncAll  bool
		lookback time.Duration
		expected string
	}{
		{"default lookback", "in:inbox", false, 0, "in:inbox after:2024/03/01"},
		{"custom lookback", "", false, 7 * 24 * time.Hour, "after:2024/03/24"},
		{"sync all", "in:inbox", true, 0, "in:inbox"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(newFakeSource([]string{"a"}))
			cfg := testConfig()
			cfg.Query = tt.query
			cfg.SyncAll = tt.syncAll
			cfg.Lookback = tt.lookback

			if _, err := h.pipeline(cfg, nil).StartSync(context.Background()); err != nil {
				t.Fatalf("StartSync failed: %v", err)
			}
			if h.source.queries[0] != tt.expected {
				t.Errorf("query = %q, want %q", h.source.queries[0], tt.expected)
			}
		})
	}
}

func TestStartSync_MaxItems(t *testing.T) {
	h := newHarness(newFakeSource([]string{"a", "b", "c"}, []string{"d", "e", "f"}))
	cfg := testConfig()
	cfg.MaxItems = 4

	final, err := h.pipeline(cfg, nil).StartSync(context.Background())
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}
	if final.Queued != 4 || final.Synced != 4 {
		t.Errorf("expected 4 queued and synced, got %+v", final)
	}
	if h.source.getCount("e") != 0 {
		t.Errorf("item beyond max_items was fetched")
	}
}

func TestStartSync_TransientErrorsRetried(t *testing.T) {
	h := newHarness(newFakeSource([]string{"a", "b"}))
	h.source.getErrs["b"] = []error{&statusErr{503}, &statusErr{429}}

	final, err := h.pipeline(testConfig(), nil).StartSync(context.Background())
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}
	if final.Synced != 2 || final.Failed != 0 {
		t.Errorf("unexpected progress: %+v", final)
	}
	if got := h.source.getCount("b"); got != 3 {
		t.Errorf("expected 3 attempts for b, got %d", got)
	}
}

func TestStartSync_PermanentFailureDropsItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newFakeSource([]string{"a", "bad", "c"}))
	h.source.failing["bad"] = &statusErr{404}

	var dropped []string
	var droppedRetries int
	final, err := h.pipeline(testConfig(), func(d *Deps) {
		d.OnDropped = func(id string, retryCount int, cause error) {
			dropped = append(dropped, id)
			droppedRetries = retryCount
		}
	}).StartSync(ctx)
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}

	if len(dropped) != 1 || dropped[0] != "bad" || droppedRetries != queue.MaxRetries {
		t.Errorf("expected bad dropped after %d retries, got %v (%d)", queue.MaxRetries, dropped, droppedRetries)
	}
	if final.Synced != 2 || final.Failed != 1 {
		t.Errorf("unexpected progress: %+v", final)
	}
	if len(final.Errors) != 1 || !strings.HasPrefix(final.Errors[0], "bad:") {
		t.Errorf("expected one error for bad, got %v", final.Errors)
	}
	// Non-retryable: one call per queue attempt.
	if got := h.source.getCount("bad"); got != queue.MaxRetries {
		t.Errorf("expected %d fetches of bad, got %d", queue.MaxRetries, got)
	}
	if _, err := h.queue.Get(ctx, "bad"); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("expected dropped item to be removed, got %v", err)
	}
}

func TestStartSync_ListingFailureStillDrains(t *testing.T) {
	h := newHarness(newFakeSource([]string{"a", "b"}, []string{"c"}))
	h.source.listErrs["page-1"] = errors.New("invalid page token")

	final, err := h.pipeline(testConfig(), nil).StartSync(context.Background())
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}
	if final.Stage != domain.SyncStageComplete {
		t.Errorf("expected complete, got %s", final.Stage)
	}
	if final.Queued != 2 || final.Synced != 2 {
		t.Errorf("expected first page to be synced, got %+v", final)
	}
	if len(final.Errors) != 1 || !strings.HasPrefix(final.Errors[0], "listing:") {
		t.Errorf("expected listing error in progress, got %v", final.Errors)
	}
}

func TestStartSync_BatchWriteFailureRetriesItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newFakeSource([]string{"a", "b"}))
	flaky := &flakyMessages{MessageRepo: h.messages, failures: 1}

	final, err := h.pipeline(testConfig(), func(d *Deps) { d.Messages = flaky }).StartSync(ctx)
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}

	if final.Synced != 2 || final.Failed != 0 || final.Batch != 2 {
		t.Errorf("unexpected progress: %+v", final)
	}
	if h.source.getCount("a") != 2 {
		t.Errorf("expected a to be fetched again after the failed write, got %d", h.source.getCount("a"))
	}
}

func TestStop_ReleasesClaimedWorkAndResumes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newFakeSource([]string{"a", "b", "c", "d"}))

	var p *Pipeline
	p = h.pipeline(testConfig(), func(d *Deps) {
		d.OnProgress = func(pr domain.SyncProgress) {
			if pr.Batch == 1 {
				p.Stop()
			}
		}
	})

	final, err := p.StartSync(ctx)
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}
	if final.Stage != domain.SyncStageComplete || final.Synced != 0 {
		t.Errorf("expected stopped run to complete with nothing synced, got %+v", final)
	}

	stats, _ := h.queue.Stats(ctx)
	if stats.Pending != 4 || stats.Claimed != 0 {
		t.Errorf("expected all items back to pending, got %+v", stats)
	}

	resumed := h.pipeline(testConfig(), nil)
	final, err = resumed.ResumeSync(ctx)
	if err != nil {
		t.Fatalf("ResumeSync failed: %v", err)
	}
	if final.Synced != 4 || final.Queued != 0 {
		t.Errorf("unexpected resume progress: %+v", final)
	}
	if len(h.source.queries) != 1 {
		t.Errorf("resume must not list, got %d list calls", len(h.source.queries))
	}
}

func TestResumeSync_ReclaimsStaleItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newFakeSource())

	h.queue.Enqueue(ctx, []string{"a", "b"})
	h.queue.ClaimBatch(ctx, 2)

	// Claimed ten minutes before testNow.
	past := queue.New(memory.NewQueueRepo(h.store), "alice",
		queue.WithClock(func() time.Time { return testNow.Add(10 * time.Minute) }))

	p := h.pipeline(testConfig(), func(d *Deps) {
		d.Queue = past
		d.Now = func() time.Time { return testNow.Add(10 * time.Minute) }
	})
	final, err := p.ResumeSync(ctx)
	if err != nil {
		t.Fatalf("ResumeSync failed: %v", err)
	}
	if final.Synced != 2 {
		t.Errorf("expected stale items to be synced, got %+v", final)
	}
}

func TestStartSync_KeysOnQueuedID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newFakeSource([]string{"a", "b"}))
	h.source.idPrefix = "msg-"

	final, err := h.pipeline(testConfig(), nil).StartSync(ctx)
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}
	if final.Synced != 2 || final.Failed != 0 {
		t.Errorf("unexpected progress: %+v", final)
	}

	stats, _ := h.queue.Stats(ctx)
	if stats.Total() != 0 {
		t.Errorf("expected empty queue after drain, got %+v", stats)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := h.messages.Get(ctx, "alice", id); err != nil {
			t.Errorf("message %s not stored under its queued id: %v", id, err)
		}
		if h.source.getCount(id) != 1 {
			t.Errorf("expected one fetch of %s, got %d", id, h.source.getCount(id))
		}
	}
}

func TestStop_BeforeRunIsHonored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(newFakeSource([]string{"a", "b"}))
	locker := &fakeLocker{}
	p := h.pipeline(testConfig(), func(d *Deps) { d.Locker = locker })

	p.Stop()
	final, err := p.StartSync(ctx)
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}
	if final.Stage != domain.SyncStageComplete || final.Queued != 0 || final.Synced != 0 {
		t.Errorf("expected a stopped run to do nothing, got %+v", final)
	}
	if len(h.source.queries) != 0 {
		t.Errorf("expected no listing after an early stop, got %v", h.source.queries)
	}

	// The stop applies to one run only.
	final, err = p.StartSync(ctx)
	if err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}
	if final.Synced != 2 {
		t.Errorf("expected the next run to sync everything, got %+v", final)
	}
}

func TestStartSync_LockerError(t *testing.T) {
	h := newHarness(newFakeSource([]string{"a"}))
	errLocked := errors.New("already running")

	p := h.pipeline(testConfig(), func(d *Deps) { d.Locker = &fakeLocker{err: errLocked} })
	if _, err := p.StartSync(context.Background()); !errors.Is(err, errLocked) {
		t.Fatalf("expected lock error, got %v", err)
	}
	if len(h.source.queries) != 0 {
		t.Errorf("expected no listing without the lock")
	}

	locker := &fakeLocker{}
	p = h.pipeline(testConfig(), func(d *Deps) { d.Locker = locker })
	if _, err := p.StartSync(context.Background()); err != nil {
		t.Fatalf("StartSync failed: %v", err)
	}
	if locker.locked != 1 || locker.unlocked != 1 {
		t.Errorf("expected lock/unlock once, got %d/%d", locker.locked, locker.unlocked)
	}
}
