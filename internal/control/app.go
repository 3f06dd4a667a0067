package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/inboxsync/internal/core/config"
	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/core/queue"
	"github.com/vietddude/inboxsync/internal/indexing/labeler"
	"github.com/vietddude/inboxsync/internal/indexing/syncer"
	"github.com/vietddude/inboxsync/internal/infra/classifier/gemini"
	redisclient "github.com/vietddude/inboxsync/internal/infra/redis"
	"github.com/vietddude/inboxsync/internal/infra/retry"
	"github.com/vietddude/inboxsync/internal/infra/source"
	"github.com/vietddude/inboxsync/internal/infra/storage"
	"github.com/vietddude/inboxsync/internal/infra/storage/memory"
	"github.com/vietddude/inboxsync/internal/infra/storage/postgres"
)

var (
	// ErrNoOwner is returned when an operation needs an owner and none is
	// given or configured.
	ErrNoOwner = errors.New("no owner configured")
)

// App wires stores, remote clients and pipelines. It builds a fresh queue
// and pipeline for every run.
type App struct {
	cfg *config.AppConfig

	queueRepo storage.QueueRepository
	messages  storage.MessageRepository
	db        *postgres.DB
	redis     *redisclient.Client

	source      syncer.Source
	sourceStats *source.Monitor
	classifier  labeler.Classifier
	retrier     retry.Retrier
	now         func() time.Time
	log         *slog.Logger

	mu       sync.Mutex
	syncing  map[string]*syncer.Pipeline
	labeling map[string]*labeler.Driver
}

// Option customizes an App.
type Option func(*App)

// WithSource replaces the HTTP source client.
func WithSource(src syncer.Source) Option {
	return func(a *App) { a.source = src }
}

// WithClassifier replaces the Gemini classifier.
func WithClassifier(c labeler.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithRetrier replaces the retry executor used by both pipelines.
func WithRetrier(r retry.Retrier) Option {
	return func(a *App) { a.retrier = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App. With an empty database url everything is kept in
// memory; with an empty redis url runs are not locked across processes.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		retrier:  retry.New(),
		now:      time.Now,
		log:      slog.Default().With("component", "app"),
		syncing:  make(map[string]*syncer.Pipeline),
		labeling: make(map[string]*labeler.Driver),
	}
	for _, opt := range opts {
		opt(a)
	}

	// 1. Initialize Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db = db
		a.queueRepo = postgres.NewQueueRepo(db)
		a.messages = postgres.NewMessageRepo(db)
		a.log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		a.queueRepo = memory.NewQueueRepo(store)
		a.messages = memory.NewMessageRepo(store)
		a.log.Info("Using Memory storage")
	}

	// 2. Initialize Redis
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			a.log.Warn("Failed to connect to Redis, run locking disabled", "error", err)
		} else {
			a.redis = client
		}
	}

	// 3. Remote clients
	if a.source == nil {
		client := source.NewClient(cfg.Source)
		a.source = client
		a.sourceStats = client.Monitor
	}

	return a, nil
}

// Close releases database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// Owners returns configured owners plus owners with queued rows, sorted.
func (a *App) Owners(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, o := range a.cfg.Sync.OwnerIDs() {
		seen[o] = struct{}{}
	}
	stored, err := a.queueRepo.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	for _, o := range stored {
		seen[o] = struct{}{}
	}

	owners := make([]string, 0, len(seen))
	for o := range seen {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners, nil
}

// Sync lists new items for owner and drains the queue.
func (a *App) Sync(ctx context.Context, owner string) (domain.SyncProgress, error) {
	return a.runSync(ctx, owner, false)
}

// Resume reclaims stale items and drains owner's queue without listing.
func (a *App) Resume(ctx context.Context, owner string) (domain.SyncProgress, error) {
	return a.runSync(ctx, owner, true)
}

func (a *App) runSync(ctx context.Context, owner string, resume bool) (domain.SyncProgress, error) {
	owner, err := a.resolveOwner(owner)
	if err != nil {
		return domain.SyncProgress{}, err
	}

	q := queue.New(a.queueRepo, owner, queue.WithClock(a.now))
	deps := syncer.Deps{
		Source:    a.source,
		Queue:     q,
		Messages:  a.messages,
		Retrier:   a.retrier,
		Logger:    slog.Default(),
		Now:       a.now,
		OnDropped: a.recordDropped(owner),
	}
	if a.redis != nil {
		deps.Locker = redisclient.NewRunLocker(a.redis, a.cfg.Redis.LockTTL)
		deps.OnProgress = a.saveProgress(owner)
	}

	p := syncer.New(a.cfg.Sync.PipelineConfig(owner, a.cfg.Source.PageSize), deps)
	a.withLock(func() { a.syncing[owner] = p })
	defer a.withLock(func() { delete(a.syncing, owner) })

	var final domain.SyncProgress
	if resume {
		final, err = p.ResumeSync(ctx)
	} else {
		final, err = p.StartSync(ctx)
	}
	if a.redis != nil {
		a.storeProgress(owner, final)
	}
	return final, err
}

// ClassifyReport summarizes one classification run.
type ClassifyReport struct {
	OwnerID string
	Total   int // unclassified messages loaded
	Matched int
	NoMatch int
	Failed  int // left unclassified for the next run
}

// Classify labels up to classify.batch_size unclassified messages of owner.
// Matches and no-matches are stamped as classified; failed calls are left
// for the next run.
func (a *App) Classify(ctx context.Context, owner string) (ClassifyReport, error) {
	owner, err := a.resolveOwner(owner)
	if err != nil {
		return ClassifyReport{}, err
	}
	report := ClassifyReport{OwnerID: owner}

	cats := a.cfg.Classify.Categories
	if len(cats) == 0 {
		return report, labeler.ErrNoCategories
	}

	msgs, err := a.messages.ListUnclassified(ctx, owner, a.cfg.Classify.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to load unclassified messages: %w", err)
	}
	report.Total = len(msgs)
	if len(msgs) == 0 {
		return report, nil
	}

	classifier, err := a.loadClassifier(ctx)
	if err != nil {
		return report, err
	}

	items := make([]domain.ClassificationInput, len(msgs))
	for i, m := range msgs {
		items[i] = m.ClassificationInput()
	}

	failed := make(map[string]struct{})
	d := labeler.NewDriver(a.cfg.Classify.DriverConfig(), classifier, a.retrier, slog.Default().With("owner", owner))
	d.OnItem = func(p domain.ItemProgress) {
		if p.Status == domain.ItemStatusFailed {
			failed[p.ItemID] = struct{}{}
		}
	}
	a.withLock(func() { a.labeling[owner] = d })
	defer a.withLock(func() { delete(a.labeling, owner) })

	outcomes, runErr := d.Run(ctx, items, cats)

	save := make([]domain.ClassificationOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		switch {
		case isFailed(failed, o.ItemID):
			report.Failed++
			continue
		case o.Matched():
			report.Matched++
		default:
			report.NoMatch++
		}
		save = append(save, o)
	}

	if len(save) > 0 {
		if err := a.messages.SaveClassifications(context.WithoutCancel(ctx), owner, save, a.now()); err != nil {
			return report, fmt.Errorf("failed to save classifications: %w", err)
		}
	}

	a.log.Info("Classification saved",
		"owner", owner,
		"total", report.Total,
		"matched", report.Matched,
		"no_match", report.NoMatch,
		"failed", report.Failed,
	)
	return report, runErr
}

func isFailed(failed map[string]struct{}, id string) bool {
	_, ok := failed[id]
	return ok
}

// OwnerStatus is the state of one owner's queue and stored messages.
type OwnerStatus struct {
	OwnerID  string
	Queue    domain.QueueStats
	Messages int
	Dropped  int
	Running  bool
	Last     *redisclient.ProgressSnapshot // nil without Redis or before the first run
}

// Status reports every known owner.
func (a *App) Status(ctx context.Context) ([]OwnerStatus, error) {
	owners, err := a.Owners(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]OwnerStatus, 0, len(owners))
	for _, owner := range owners {
		st := OwnerStatus{OwnerID: owner}

		if st.Queue, err = queue.New(a.queueRepo, owner).Stats(ctx); err != nil {
			return nil, err
		}
		if st.Messages, err = a.messages.Count(ctx, owner); err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}

		a.mu.Lock()
		_, st.Running = a.syncing[owner]
		a.mu.Unlock()

		if a.redis != nil {
			if st.Last, err = a.redis.GetProgress(ctx, owner); err != nil {
				a.log.Warn("Failed to load last progress", "owner", owner, "error", err)
			}
			if st.Dropped, err = a.redis.CountDropped(ctx, owner); err != nil {
				a.log.Warn("Failed to count dropped items", "owner", owner, "error", err)
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// ResetQueue removes every queued row of owner and its Redis records.
func (a *App) ResetQueue(ctx context.Context, owner string) (int, error) {
	owner, err := a.resolveOwner(owner)
	if err != nil {
		return 0, err
	}

	n, err := queue.New(a.queueRepo, owner).Purge(ctx)
	if err != nil {
		return 0, err
	}
	if a.redis != nil {
		if err := a.redis.ClearProgress(ctx, owner); err != nil {
			a.log.Warn("Failed to clear progress", "owner", owner, "error", err)
		}
		if err := a.redis.ClearDropped(ctx, owner); err != nil {
			a.log.Warn("Failed to clear dropped items", "owner", owner, "error", err)
		}
	}
	a.log.Info("Queue reset", "owner", owner, "removed", n)
	return n, nil
}

// Dropped lists the most recent items the queue gave up on. It returns
// nothing without Redis.
func (a *App) Dropped(ctx context.Context, owner string, limit int) ([]redisclient.DroppedItem, error) {
	if a.redis == nil {
		return nil, nil
	}
	return a.redis.ListDropped(ctx, owner, limit)
}

// StopRuns makes every running pipeline stop starting new work.
func (a *App) StopRuns() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.syncing {
		p.Stop()
	}
	for _, d := range a.labeling {
		d.Stop()
	}
}

func (a *App) resolveOwner(owner string) (string, error) {
	if owner != "" {
		return owner, nil
	}
	if ids := a.cfg.Sync.OwnerIDs(); len(ids) > 0 {
		return ids[0], nil
	}
	return "", ErrNoOwner
}

func (a *App) withLock(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
}

func (a *App) loadClassifier(ctx context.Context) (labeler.Classifier, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.classifier != nil {
		return a.classifier, nil
	}
	c, err := gemini.New(ctx, a.cfg.Classify.GeminiConfig(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	a.classifier = c
	return c, nil
}

// saveProgress stores a snapshot on every stage change.
func (a *App) saveProgress(owner string) func(domain.SyncProgress) {
	var last domain.SyncStage
	return func(p domain.SyncProgress) {
		if p.Stage == last {
			return
		}
		last = p.Stage
		a.storeProgress(owner, p)
	}
}

func (a *App) storeProgress(owner string, p domain.SyncProgress) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.redis.SetProgress(ctx, owner, p, a.now()); err != nil {
		a.log.Warn("Failed to store progress", "owner", owner, "error", err)
	}
}

func (a *App) recordDropped(owner string) func(string, int, error) {
	return func(id string, retryCount int, cause error) {
		if a.redis == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := a.redis.AddDropped(ctx, owner, redisclient.DroppedItem{
			ID:         id,
			RetryCount: retryCount,
			Error:      cause.Error(),
			DroppedAt:  a.now(),
		})
		if err != nil {
			a.log.Warn("Failed to record dropped item", "owner", owner, "id", id, "error", err)
		}
	}
}
