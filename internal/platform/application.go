// Package platform wires config, logging, the queue client, the store, the
// identity cache, and the worker scheduler into one process lifecycle,
// grounded on the teacher's events-service Application.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MuhibNayem/connectify-v2/graph-projector/config"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/eventqueue"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/httpapi"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/identity"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/ingest"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/metrics"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/store"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/worker"
)

// Application owns every long-lived dependency of the projector process and
// its start/stop lifecycle.
type Application struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg    *config.Config
	logger *slog.Logger

	queue     *eventqueue.Client
	pgStore   *store.Store
	cache     *identity.Cache
	decoder   *ingest.Decoder
	metrics   *metrics.Worker
	scheduler *worker.Scheduler
	admin     *httpapi.Server

	shutdownOnce sync.Once
}

// NewApplication constructs and bootstraps every dependency. A failure here
// is fatal per spec §7: the process should not start serving with a
// half-initialized dependency graph.
func NewApplication(parentCtx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	ctx, cancel := context.WithCancel(parentCtx)
	app := &Application{ctx: ctx, cancel: cancel, cfg: cfg, logger: logger}

	if err := app.bootstrap(); err != nil {
		cancel()
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *Application) bootstrap() error {
	a.queue = eventqueue.New(eventqueue.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err := a.queue.Ping(a.ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	pgStore, err := store.New(a.ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.pgStore = pgStore

	a.decoder = ingest.NewDecoder(a.logger)
	a.metrics = metrics.NewWorker()

	a.cache = identity.New(
		a.pgStore,
		a.cfg.UserCacheTTL,
		a.cfg.MaxRetries,
		store.IsDeadlock,
		store.IsUniqueViolation,
		a.logger,
		a.metrics.RecordCacheInsertError,
	)

	a.scheduler = worker.New(worker.Config{
		Concurrency:        a.cfg.WorkerConcurrency,
		BatchSize:          a.cfg.BatchSize,
		QueueName:          a.cfg.QueueName,
		IdleSleep:          a.cfg.IdleSleep,
		ErrorSleep:         a.cfg.ErrorSleep,
		DeadlockRetryLimit: a.cfg.DeadlockRetryLimit,
		TransactionTimeout: a.cfg.TransactionTimeout,
		StatsInterval:      a.cfg.StatsInterval,
	}, a.queue, a.decoder, a.cache, a.pgStore, a.metrics, a.logger)

	a.admin = httpapi.New(":"+a.cfg.HTTPPort, a.scheduler, func() interface{} {
		return a.scheduler.Snapshot(a.ctx)
	})

	return nil
}

// Run starts the scheduler and the admin HTTP server and blocks until the
// parent context is canceled (normally by an OS signal in cmd/projector).
func (a *Application) Run() error {
	if err := a.scheduler.Start(a.ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("admin http server starting", "port", a.cfg.HTTPPort)
		if err := a.admin.Run(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-a.ctx.Done():
		return a.Shutdown()
	case err := <-errCh:
		a.logger.Error("admin http server failed", "error", err)
		return a.Shutdown()
	}
}

// Shutdown stops the scheduler and HTTP server and releases resources. It
// is safe to call more than once.
func (a *Application) Shutdown() error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")
		a.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.admin.Shutdown(ctx); err != nil {
			a.logger.Error("admin http server shutdown error", "error", err)
			shutdownErr = err
		}

		a.scheduler.Stop()
		a.Close()
	})
	return shutdownErr
}

// Close releases the queue and store connections. Safe to call on a
// partially-bootstrapped Application.
func (a *Application) Close() {
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.queue != nil {
		_ = a.queue.Close()
	}
}
