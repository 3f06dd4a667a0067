// Package syncer drives ingestion: list remote ids into the durable queue,
// then drain the queue with adaptive concurrency and persist what was
// fetched.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/core/queue"
	"github.com/vietddude/inboxsync/internal/indexing/metrics"
	"github.com/vietddude/inboxsync/internal/indexing/pool"
	"github.com/vietddude/inboxsync/internal/indexing/throttle"
	"github.com/vietddude/inboxsync/internal/infra/retry"
	"github.com/vietddude/inboxsync/internal/infra/storage"
)

const pipelineName = "sync"

// Deps are the collaborators of a Pipeline. Source, Queue and Messages
// are required.
type Deps struct {
	Source   Source
	Queue    *queue.Queue
	Messages storage.MessageRepository

	Retrier    retry.Retrier // default: retry.New()
	Locker     Locker        // optional
	Logger     *slog.Logger
	OnProgress func(domain.SyncProgress)
	OnDropped  func(id string, retryCount int, cause error)
	Now        func() time.Time
}

// Pipeline syncs one owner's items. A Pipeline runs one sync at a time.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	stopped atomic.Bool

	mu       sync.Mutex
	progress domain.SyncProgress
}

// New creates a pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	cfg = cfg.withDefaults()
	if deps.Retrier == nil {
		deps.Retrier = retry.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		log:      logger.With("component", "syncer", "owner", cfg.OwnerID),
		progress: domain.SyncProgress{Stage: domain.SyncStageIdle},
	}
}

// StartSync lists new items into the queue and drains it.
func (p *Pipeline) StartSync(ctx context.Context) (domain.SyncProgress, error) {
	return p.run(ctx, true)
}

// ResumeSync returns stale claimed items to pending and drains the queue
// without listing.
func (p *Pipeline) ResumeSync(ctx context.Context) (domain.SyncProgress, error) {
	return p.run(ctx, false)
}

// Stop makes the current sync, or the next one if none is running, stop
// starting new work. In-flight fetches finish and are recorded; the run
// then reaches complete.
func (p *Pipeline) Stop() {
	p.stopped.Store(true)
}

// Stage returns the current stage.
func (p *Pipeline) Stage() domain.SyncStage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress.Stage
}

// Progress returns a snapshot of the current progress.
func (p *Pipeline) Progress() domain.SyncProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *Pipeline) run(ctx context.Context, list bool) (domain.SyncProgress, error) {
	defer p.stopped.Store(false)

	if p.deps.Locker != nil {
		unlock, err := p.deps.Locker.Lock(ctx, p.cfg.OwnerID)
		if err != nil {
			return p.Progress(), fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer unlock()
	}

	p.update(func(pr *domain.SyncProgress) {
		*pr = domain.SyncProgress{Stage: domain.SyncStageIdle}
	})

	admission := throttle.NewAdmissionController(p.cfg.Admission)
	admission.OnChange(func(current int) {
		metrics.AdmissionLevel.WithLabelValues(pipelineName).Set(float64(current))
	})

	start := p.deps.Now()

	if list {
		p.setStage(domain.SyncStageListing)
		if err := p.list(ctx); err != nil {
			return p.fatal(err)
		}
	} else {
		n, err := p.deps.Queue.ResetStale(ctx, p.cfg.StaleAfter)
		if err != nil {
			return p.fatal(err)
		}
		if n > 0 {
			p.log.Info("Reset stale claimed items", "count", n)
		}
	}

	p.setStage(domain.SyncStageSyncing)
	drained, err := p.drain(ctx, admission)
	if err != nil {
		return p.fatal(err)
	}

	if drained {
		if n, err := p.deps.Queue.DeleteDone(ctx); err != nil {
			p.log.Warn("Failed to clean up done items", "error", err)
		} else if n > 0 {
			p.log.Debug("Cleaned up done items", "count", n)
		}
	}

	p.recordQueueDepth(context.WithoutCancel(ctx))
	p.setStage(domain.SyncStageComplete)

	final := p.Progress()
	p.log.Info("Sync complete",
		"queued", final.Queued,
		"synced", final.Synced,
		"failed", final.Failed,
		"batches", final.Batch,
		"stopped", !drained,
		"duration", p.deps.Now().Sub(start),
	)
	return final, nil
}

// list pages through the source and enqueues every page as it arrives.
// A listing failure ends listing only; whatever was enqueued still drains.
func (p *Pipeline) list(ctx context.Context) error {
	query := p.buildQuery()
	cfg := p.cfg.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.observeRetry(cfg, attempt, delay, err, "list")
	}

	listed := 0
	token := ""
	for !p.shouldStop(ctx) {
		maxResults := p.cfg.PageSize
		if p.cfg.MaxItems > 0 {
			remaining := p.cfg.MaxItems - listed
			if remaining <= 0 {
				break
			}
			maxResults = min(maxResults, remaining)
		}

		res, err := retry.Execute(ctx, p.deps.Retrier, func(ctx context.Context) (ListPage, error) {
			return p.deps.Source.List(ctx, ListRequest{
				Query:      query,
				PageToken:  token,
				MaxResults: maxResults,
			})
		}, cfg)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.log.Error("Listing failed", "error", err, "listed", listed)
			p.addError(fmt.Sprintf("listing: %v", err))
			break
		}

		ids := res.Value.IDs
		if p.cfg.MaxItems > 0 && listed+len(ids) > p.cfg.MaxItems {
			ids = ids[:p.cfg.MaxItems-listed]
		}
		listed += len(ids)
		metrics.ItemsListed.WithLabelValues(p.cfg.OwnerID).Add(float64(len(ids)))

		added, err := p.deps.Queue.Enqueue(ctx, ids)
		if err != nil {
			return err
		}
		metrics.ItemsEnqueued.WithLabelValues(p.cfg.OwnerID).Add(float64(added))
		p.update(func(pr *domain.SyncProgress) { pr.Queued += added })

		p.log.Debug("Listed page", "ids", len(ids), "added", added, "total", listed)

		token = res.Value.NextPageToken
		if token == "" {
			break
		}
	}
	return nil
}

func (p *Pipeline) buildQuery() string {
	if p.cfg.SyncAll {
		return p.cfg.Query
	}
	after := p.deps.Now().Add(-p.cfg.Lookback).Format("2006/01/02")
	return strings.TrimSpace(p.cfg.Query + " after:" + after)
}

type fetchResult struct {
	id  string // queue key
	msg *domain.Message
	err error
}

// drain claims and processes batches until the queue is empty or the run
// is stopped. Reports whether the queue was fully drained.
func (p *Pipeline) drain(ctx context.Context, admission *throttle.AdmissionController) (bool, error) {
	for !p.shouldStop(ctx) {
		batch, err := p.deps.Queue.ClaimBatch(ctx, p.cfg.BatchSize)
		if err != nil {
			return false, err
		}
		if len(batch) == 0 {
			return true, nil
		}

		p.update(func(pr *domain.SyncProgress) { pr.Batch++ })
		p.processBatch(ctx, batch, admission)
	}
	return false, nil
}

func (p *Pipeline) processBatch(ctx context.Context, batch []*domain.QueueItem, admission *throttle.AdmissionController) {
	// Bookkeeping must land even if ctx is cancelled mid-batch.
	bctx := context.WithoutCancel(ctx)

	var (
		fetched []fetchResult
		started = make(map[string]struct{}, len(batch))
	)

	pool.Run(ctx, batch, pool.Task[*domain.QueueItem, fetchResult]{
		Limit: admission.Concurrency,
		Stop:  p.stopped.Load,
		Work: func(ctx context.Context, item *domain.QueueItem) fetchResult {
			msg, err := p.fetch(ctx, item.NaturalID, admission)
			return fetchResult{id: item.NaturalID, msg: msg, err: err}
		},
		Done: func(item *domain.QueueItem, r fetchResult) {
			started[item.NaturalID] = struct{}{}
			if r.err != nil {
				if ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
					// Interrupted, not failed.
					delete(started, item.NaturalID)
					return
				}
				p.fail(bctx, item.NaturalID, r.err)
				return
			}
			fetched = append(fetched, r)
		},
	})

	var unstarted []string
	for _, item := range batch {
		if _, ok := started[item.NaturalID]; !ok {
			unstarted = append(unstarted, item.NaturalID)
		}
	}
	if err := p.deps.Queue.Release(bctx, unstarted); err != nil {
		p.log.Warn("Failed to release unstarted items", "count", len(unstarted), "error", err)
	}

	p.persist(bctx, fetched)
}

// fetch gets one item through the retry executor and feeds the admission
// controller.
func (p *Pipeline) fetch(ctx context.Context, id string, admission *throttle.AdmissionController) (*domain.Message, error) {
	cfg := p.cfg.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		admission.RecordError(cfg.RateLimited(err))
		p.observeRetry(cfg, attempt, delay, err, "get", "id", id)
	}

	res, err := retry.Execute(ctx, p.deps.Retrier, func(ctx context.Context) (*domain.Message, error) {
		return p.deps.Source.Get(ctx, id)
	}, cfg)
	if err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, fmt.Errorf("source returned no item for %s", id)
	}
	if res.Value.ID != id {
		if res.Value.ID != "" {
			p.log.Warn("Source returned a different id, keeping the queued one", "id", id, "returned", res.Value.ID)
		}
		res.Value.ID = id
	}
	if res.Attempts == 1 {
		admission.RecordSuccess()
	}
	return res.Value, nil
}

// persist writes fetched items in one batch, then marks them done. If the
// write fails every item in it counts as a failed attempt.
func (p *Pipeline) persist(ctx context.Context, fetched []fetchResult) {
	if len(fetched) == 0 {
		return
	}

	now := p.deps.Now()
	msgs := make([]*domain.Message, len(fetched))
	for i, r := range fetched {
		r.msg.OwnerID = p.cfg.OwnerID
		if r.msg.FetchedAt.IsZero() {
			r.msg.FetchedAt = now
		}
		msgs[i] = r.msg
	}

	if err := p.deps.Messages.SaveBatch(ctx, msgs); err != nil {
		p.log.Error("Failed to persist batch", "items", len(msgs), "error", err)
		for _, r := range fetched {
			p.fail(ctx, r.id, err)
		}
		return
	}

	synced := 0
	for _, r := range fetched {
		if err := p.deps.Queue.MarkDone(ctx, r.id); err != nil {
			p.log.Warn("Failed to mark item done", "id", r.id, "error", err)
			continue
		}
		synced++
	}

	metrics.ItemsSynced.WithLabelValues(p.cfg.OwnerID).Add(float64(synced))
	p.update(func(pr *domain.SyncProgress) { pr.Synced += synced })
}

// fail records a failed attempt. The error only surfaces in progress once
// the queue drops the item.
func (p *Pipeline) fail(ctx context.Context, id string, cause error) {
	res, err := p.deps.Queue.MarkFailed(ctx, id, cause.Error())
	if err != nil {
		p.log.Error("Failed to record item failure", "id", id, "cause", cause, "error", err)
		return
	}

	metrics.ItemsFailed.WithLabelValues(p.cfg.OwnerID, strconv.FormatBool(res.PermanentlyDropped)).Inc()

	if !res.PermanentlyDropped {
		p.log.Warn("Item failed, will retry", "id", id, "retry_count", res.RetryCount, "error", cause)
		return
	}

	p.log.Error("Item dropped after max retries", "id", id, "retry_count", res.RetryCount, "error", cause)
	p.update(func(pr *domain.SyncProgress) {
		pr.Failed++
		pr.Errors = append(pr.Errors, fmt.Sprintf("%s: %v", id, cause))
	})
	if p.deps.OnDropped != nil {
		p.deps.OnDropped(id, res.RetryCount, cause)
	}
}

func (p *Pipeline) observeRetry(cfg retry.Config, attempt int, delay time.Duration, err error, op string, attrs ...any) {
	rateLimited := cfg.RateLimited(err)
	metrics.RetriesTotal.WithLabelValues(pipelineName, strconv.FormatBool(rateLimited)).Inc()
	p.log.Debug("Retrying remote call",
		append([]any{"op", op, "attempt", attempt, "delay", delay, "rate_limited", rateLimited, "error", err}, attrs...)...)
}

func (p *Pipeline) recordQueueDepth(ctx context.Context) {
	stats, err := p.deps.Queue.Stats(ctx)
	if err != nil {
		p.log.Debug("Failed to read queue stats", "error", err)
		return
	}
	owner := p.cfg.OwnerID
	metrics.QueueDepth.WithLabelValues(owner, string(domain.QueueStatusPending)).Set(float64(stats.Pending))
	metrics.QueueDepth.WithLabelValues(owner, string(domain.QueueStatusClaimed)).Set(float64(stats.Claimed))
	metrics.QueueDepth.WithLabelValues(owner, string(domain.QueueStatusDone)).Set(float64(stats.Done))
}

func (p *Pipeline) fatal(err error) (domain.SyncProgress, error) {
	p.log.Error("Sync aborted", "error", err)
	p.addError(err.Error())
	return p.Progress(), err
}

func (p *Pipeline) shouldStop(ctx context.Context) bool {
	return p.stopped.Load() || ctx.Err() != nil
}

func (p *Pipeline) setStage(stage domain.SyncStage) {
	p.update(func(pr *domain.SyncProgress) { pr.Stage = stage })
}

func (p *Pipeline) addError(msg string) {
	p.update(func(pr *domain.SyncProgress) { pr.Errors = append(pr.Errors, msg) })
}

// update mutates progress and notifies the observer outside the lock.
func (p *Pipeline) update(fn func(*domain.SyncProgress)) {
	p.mu.Lock()
	fn(&p.progress)
	snap := p.snapshot()
	p.mu.Unlock()

	if p.deps.OnProgress != nil {
		p.deps.OnProgress(snap)
	}
}

func (p *Pipeline) snapshot() domain.SyncProgress {
	snap := p.progress
	snap.Errors = slices.Clone(p.progress.Errors)
	return snap
}
