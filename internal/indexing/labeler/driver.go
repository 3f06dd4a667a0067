// Package labeler fans classification calls out over a set of items with
// the same adaptive concurrency used for ingestion, and validates what the
// classifier returns against the caller's categories.
package labeler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/indexing/metrics"
	"github.com/vietddude/inboxsync/internal/indexing/pool"
	"github.com/vietddude/inboxsync/internal/indexing/throttle"
	"github.com/vietddude/inboxsync/internal/infra/retry"
)

const pipelineName = "classify"

var (
	// ErrNoCategories is returned when Run is called without categories.
	ErrNoCategories = errors.New("no categories to classify into")
)

// Config configures a Driver.
type Config struct {
	Retry        retry.Config
	CallTimeout  time.Duration // per attempt (default: 30s)
	MaxBodyRunes int           // body truncation (default: 2000)
	Admission    throttle.Config
}

// DefaultConfig returns classification defaults.
func DefaultConfig() Config {
	cfg := retry.DefaultConfig
	cfg.MaxRetries = 3
	return Config{
		Retry:        cfg,
		CallTimeout:  30 * time.Second,
		MaxBodyRunes: 2000,
		Admission:    throttle.ClassificationConfig(),
	}
}

// Driver classifies batches of items.
type Driver struct {
	cfg        Config
	classifier Classifier
	retrier    retry.Retrier
	log        *slog.Logger

	// OnItem receives per-item status transitions.
	OnItem func(domain.ItemProgress)

	// OnBatch receives the completed and total counts after each item.
	OnBatch func(completed, total int)

	stopped atomic.Bool
}

// NewDriver creates a driver. A nil retrier uses retry.New().
func NewDriver(cfg Config, classifier Classifier, retrier retry.Retrier, logger *slog.Logger) *Driver {
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxBodyRunes <= 0 {
		cfg.MaxBodyRunes = def.MaxBodyRunes
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Admission.Max <= 0 {
		cfg.Admission = def.Admission
	}
	if retrier == nil {
		retrier = retry.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		cfg:        cfg,
		classifier: classifier,
		retrier:    retrier,
		log:        logger.With("component", "labeler"),
	}
}

// Stop makes the current run, or the next one if none is running, stop
// starting new classifications.
func (d *Driver) Stop() {
	d.stopped.Store(true)
}

func (d *Driver) emit(id string, status domain.ItemStatus) {
	if d.OnItem != nil {
		d.OnItem(domain.ItemProgress{ItemID: id, Status: status})
	}
}

type callResult struct {
	outcome domain.ClassificationOutcome
	err     error
}

// Run classifies items into cats and returns one outcome per processed
// item, in input order. Classifier failures never surface as errors: the
// item gets a no-match outcome and a failed event. Items not started
// because of Stop or a cancelled ctx are left out; in the latter case
// ctx.Err() is returned alongside the outcomes.
func (d *Driver) Run(
	ctx context.Context,
	items []domain.ClassificationInput,
	cats []domain.CategoryDefinition,
) ([]domain.ClassificationOutcome, error) {
	if len(cats) == 0 {
		return nil, ErrNoCategories
	}
	defer d.stopped.Store(false)

	valid := make(map[string]struct{}, len(cats))
	for _, c := range cats {
		valid[c.ID] = struct{}{}
	}

	for _, item := range items {
		d.emit(item.ItemID, domain.ItemStatusPending)
	}

	admission := throttle.NewAdmissionController(d.cfg.Admission)
	admission.OnChange(func(current int) {
		metrics.AdmissionLevel.WithLabelValues(pipelineName).Set(float64(current))
	})

	indexes := make([]int, len(items))
	for i := range indexes {
		indexes[i] = i
	}

	results := make([]*domain.ClassificationOutcome, len(items))
	completed := 0

	pool.Run(ctx, indexes, pool.Task[int, callResult]{
		Limit: admission.Concurrency,
		Stop:  d.stopped.Load,
		Start: func(i int) {
			d.emit(items[i].ItemID, domain.ItemStatusClassifying)
		},
		Work: func(ctx context.Context, i int) callResult {
			return d.classify(ctx, items[i], cats, valid, admission)
		},
		Done: func(i int, r callResult) {
			id := items[i].ItemID
			if r.err != nil && ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
				d.emit(id, domain.ItemStatusPending)
				return
			}

			outcome := r.outcome
			results[i] = &outcome
			completed++

			if r.err != nil {
				d.log.Warn("Classification failed", "item", id, "error", r.err)
				metrics.ItemsClassified.WithLabelValues("failed").Inc()
				d.emit(id, domain.ItemStatusFailed)
			} else {
				result := "no_match"
				if outcome.Matched() {
					result = "matched"
				}
				metrics.ItemsClassified.WithLabelValues(result).Inc()
				d.emit(id, domain.ItemStatusCompleted)
			}

			if d.OnBatch != nil {
				d.OnBatch(completed, len(items))
			}
		},
	})

	outcomes := make([]domain.ClassificationOutcome, 0, completed)
	for _, r := range results {
		if r != nil {
			outcomes = append(outcomes, *r)
		}
	}

	d.log.Info("Classification run finished", "items", len(items), "classified", completed)
	return outcomes, ctx.Err()
}

// classify performs one item's call through the retry executor. On error
// the outcome is already the no-match fallback.
func (d *Driver) classify(
	ctx context.Context,
	item domain.ClassificationInput,
	cats []domain.CategoryDefinition,
	valid map[string]struct{},
	admission *throttle.AdmissionController,
) callResult {
	fallback := domain.ClassificationOutcome{ItemID: item.ItemID}

	input := item
	input.Body = truncateRunes(item.Body, d.cfg.MaxBodyRunes)
	req := Request{Item: input, Categories: cats}

	cfg := d.cfg.Retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		rateLimited := cfg.RateLimited(err)
		admission.RecordError(rateLimited)
		metrics.RetriesTotal.WithLabelValues(pipelineName, strconv.FormatBool(rateLimited)).Inc()
		d.log.Debug("Retrying classification",
			"item", item.ItemID, "attempt", attempt, "delay", delay, "rate_limited", rateLimited, "error", err)
	}

	res, err := retry.Execute(ctx, d.retrier, func(ctx context.Context) (RawResult, error) {
		return d.call(ctx, req)
	}, cfg)
	if err != nil {
		return callResult{outcome: fallback, err: err}
	}
	if res.Attempts == 1 {
		admission.RecordSuccess()
	}

	return callResult{outcome: validate(item.ItemID, res.Value, valid)}
}

// call races a single attempt against CallTimeout. A classifier that
// ignores cancellation is abandoned when the timer fires.
func (d *Driver) call(ctx context.Context, req Request) (RawResult, error) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	timer := time.NewTimer(d.cfg.CallTimeout)
	defer timer.Stop()

	replies := make(chan callReply, 1)
	start := time.Now()
	go func() {
		res, err := d.classifier.Classify(cctx, req)
		replies <- callReply{res: res, err: err}
	}()

	observe := func() {
		metrics.RemoteLatency.WithLabelValues("classifier", "classify").Observe(time.Since(start).Seconds())
	}

	select {
	case r := <-replies:
		observe()
		if r.err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return RawResult{}, d.timeoutErr()
		}
		return r.res, r.err
	case <-timer.C:
		observe()
		return RawResult{}, d.timeoutErr()
	case <-ctx.Done():
		return RawResult{}, ctx.Err()
	}
}

type callReply struct {
	res RawResult
	err error
}

func (d *Driver) timeoutErr() error {
	return fmt.Errorf("%w after %s", retry.ErrCallTimeout, d.cfg.CallTimeout)
}

// validate drops unknown category ids and clamps confidence to [0, 1].
func validate(itemID string, raw RawResult, valid map[string]struct{}) domain.ClassificationOutcome {
	out := domain.ClassificationOutcome{ItemID: itemID}
	if raw.CategoryID == nil {
		return out
	}
	if _, ok := valid[*raw.CategoryID]; !ok {
		return out
	}

	id := *raw.CategoryID
	out.MatchedCategoryID = &id
	out.Confidence = clamp(raw.Confidence)
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return min(v, 1)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
