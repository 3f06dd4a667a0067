package control

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/inboxsync/internal/core/worker"
	"github.com/vietddude/inboxsync/internal/indexing/health"
	redisclient "github.com/vietddude/inboxsync/internal/infra/redis"
)

// Serve runs the daemon until ctx is done: the health server, the message
// pruner, the DB metrics collector and a periodic resume+sync+classify cycle
// for every owner.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Start Health Server
	healthServer := health.NewServer(a.healthMonitor(), a.cfg.Server.Port)
	g.Go(func() error {
		a.log.Info("Health server listening", "port", a.cfg.Server.Port)
		return healthServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthServer.Stop(shutdownCtx)
	})

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(gctx)
	}

	// Start Pruner
	if a.cfg.Sync.Retention > 0 {
		pruner := worker.NewPruner(a.cfg.Sync.Retention, a.messages)
		g.Go(func() error {
			pruner.Start(gctx)
			return nil
		})
	}

	// Start Scheduler
	g.Go(func() error {
		a.schedule(gctx)
		return nil
	})

	// Stop running pipelines as soon as shutdown begins.
	g.Go(func() error {
		<-gctx.Done()
		a.StopRuns()
		return nil
	})

	return g.Wait()
}

func (a *App) healthMonitor() *health.Monitor {
	var src health.SourceStats
	if a.sourceStats != nil {
		src = a.sourceStats
	}
	var dropped health.DroppedCounter
	if a.redis != nil {
		dropped = a.redis
	}
	return health.NewMonitor(a.cfg.Sync.OwnerIDs(), a.queueRepo, src, dropped)
}

func (a *App) schedule(ctx context.Context) {
	interval := a.cfg.Sync.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle runs one resume, sync and classify pass over every owner.
func (a *App) cycle(ctx context.Context) {
	owners, err := a.Owners(ctx)
	if err != nil {
		a.log.Error("Failed to list owners", "error", err)
		return
	}

	for _, owner := range owners {
		if ctx.Err() != nil {
			return
		}

		if _, err := a.Resume(ctx, owner); err != nil {
			a.logRunError("Resume failed", owner, err)
			continue
		}
		if _, err := a.Sync(ctx, owner); err != nil {
			a.logRunError("Sync failed", owner, err)
			continue
		}
		if len(a.cfg.Classify.Categories) == 0 {
			continue
		}
		if _, err := a.Classify(ctx, owner); err != nil {
			a.logRunError("Classify failed", owner, err)
		}
	}
}

func (a *App) logRunError(msg, owner string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, redisclient.ErrLocked):
		a.log.Info("Skipping owner locked by another process", "owner", owner)
	default:
		a.log.Error(msg, "owner", owner, "error", err)
	}
}
