// Package worker implements the multi-worker scheduler described in spec
// §4.6: N concurrent pop -> decode -> plan -> project loops plus a
// periodic throughput monitor.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/ingest"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/metrics"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/planner"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/resilience"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/retry"
	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/store"
)

// QueuePopper is the narrow view of eventqueue.Client the scheduler needs.
type QueuePopper interface {
	PopBatch(ctx context.Context, queue string, n int) ([]string, error)
	QueueLength(ctx context.Context, queue string) (int64, error)
}

// IdentityCache is the narrow view of identity.Cache the scheduler needs.
type IdentityCache interface {
	Connect(ctx context.Context) error
	RefreshIfStale(ctx context.Context) error
	EnsureUsersExist(ctx context.Context, names map[string]struct{}) (map[string]int64, error)
}

// Projector is the narrow view of store.Store the scheduler needs.
type Projector interface {
	Commit(ctx context.Context, rp store.ResolvedPlan, maxRetries int, txTimeout time.Duration, backoff func(int) time.Duration, onDeadlockRetry func()) error
}

// Metrics is the narrow view of metrics.Worker the scheduler needs.
type Metrics interface {
	RecordBatch(eventCount int, duration time.Duration)
	RecordDecodeError()
	RecordDeadlockRetry()
	RecordBatchFailure()
	Snapshot() metrics.Snapshot
}

// Config controls the scheduler's concurrency and timing knobs.
type Config struct {
	Concurrency        int
	BatchSize          int
	QueueName          string
	IdleSleep          time.Duration
	ErrorSleep         time.Duration
	DeadlockRetryLimit int
	TransactionTimeout time.Duration
	StatsInterval      time.Duration
}

// Scheduler runs Config.Concurrency independent worker loops against a
// shared queue, identity cache, and store.
type Scheduler struct {
	cfg       Config
	queue     QueuePopper
	decoder   *ingest.Decoder
	cache     IdentityCache
	projector Projector
	metrics   Metrics
	logger    *slog.Logger

	queueBreaker *resilience.Breaker
	storeBreaker *resilience.Breaker

	ready   atomic.Bool
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Scheduler.
func New(cfg Config, queue QueuePopper, decoder *ingest.Decoder, cache IdentityCache, projector Projector, m Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:          cfg,
		queue:        queue,
		decoder:      decoder,
		cache:        cache,
		projector:    projector,
		metrics:      m,
		logger:       logger,
		queueBreaker: resilience.New(resilience.QueueConfig(), logger),
		storeBreaker: resilience.New(resilience.StoreConfig(), logger),
		stopCh:       make(chan struct{}),
	}
}

// Start performs the initial identity cache load, then spawns the worker
// loops and the stats monitor. It returns once the cache is loaded; workers
// keep running in the background until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.cache.Connect(ctx); err != nil {
		return err
	}
	s.ready.Store(true)
	s.running.Store(true)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}

	s.wg.Add(1)
	go s.runMonitor(ctx)

	return nil
}

// Stop signals every worker to exit at the top of its loop and blocks until
// they do. In-flight transactions are allowed to finish, bounded by the
// store's own transaction timeout.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	s.ready.Store(false)
	close(s.stopCh)
	s.wg.Wait()
}

// Ready reports whether the scheduler has completed its initial cache load
// and has not since been stopped; used by the admin HTTP surface's health
// check.
func (s *Scheduler) Ready() bool {
	return s.ready.Load()
}

// Stats is the JSON-serializable snapshot served at /stats.
type Stats struct {
	metrics.Snapshot
	Workers     int   `json:"workers"`
	QueueLength int64 `json:"queue_length"`
}

// Snapshot gathers the metrics counters plus the live worker count and
// queue depth (SPEC_FULL.md §D.3). A queue-length read failure is logged
// and reported as -1 rather than failing the whole endpoint.
func (s *Scheduler) Snapshot(ctx context.Context) Stats {
	length, err := s.queue.QueueLength(ctx, s.cfg.QueueName)
	if err != nil {
		s.logger.Warn("failed to read queue length for stats", "error", err)
		length = -1
	}
	return Stats{
		Snapshot:    s.metrics.Snapshot(),
		Workers:     s.cfg.Concurrency,
		QueueLength: length,
	}
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With("worker_id", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if err := s.safeProcessOnce(ctx, logger); err != nil {
			logger.Error("batch processing error", "error", err)
			sleepOrStop(ctx, s.stopCh, s.cfg.ErrorSleep)
		}
	}
}

// safeProcessOnce recovers a panic anywhere in decode/plan/commit into an
// error so one bad batch degrades to the same log-sleep-continue path as
// any other batch failure, rather than taking the whole worker (and, since
// an unrecovered goroutine panic ends the process, the other N-1 workers)
// down with it.
func (s *Scheduler) safeProcessOnce(ctx context.Context, logger *slog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic in batch processing, recovering", "panic", fmt.Sprintf("%v", rec))
			err = fmt.Errorf("recovered panic: %v", rec)
		}
	}()
	return s.processOnce(ctx, logger)
}

// processOnce runs exactly one pop -> decode -> plan -> project cycle.
func (s *Scheduler) processOnce(ctx context.Context, logger *slog.Logger) error {
	t0 := time.Now()

	var raw []string
	err := s.queueBreaker.ExecuteSimple(ctx, func() error {
		r, err := s.queue.PopBatch(ctx, s.cfg.QueueName, s.cfg.BatchSize)
		raw = r
		return err
	})
	if err != nil {
		return err
	}

	if len(raw) == 0 {
		sleepOrStop(ctx, s.stopCh, s.cfg.IdleSleep)
		return nil
	}

	if err := s.cache.RefreshIfStale(ctx); err != nil {
		return err
	}

	events, dropped := s.decoder.DecodeBatchCounted(raw)
	for i := 0; i < dropped; i++ {
		s.metrics.RecordDecodeError()
	}
	if len(events) == 0 {
		return nil
	}

	plan := planner.Plan(events)

	ids, err := s.cache.EnsureUsersExist(ctx, plan.NewUsers)
	if err != nil {
		return err
	}

	resolved := store.Resolve(plan, ids)

	onDeadlockRetry := func() {
		s.metrics.RecordDeadlockRetry()
		logger.Warn("deadlock committing batch, retrying", "event_count", len(events))
	}
	err = s.storeBreaker.ExecuteSimple(ctx, func() error {
		return s.projector.Commit(ctx, resolved, s.cfg.DeadlockRetryLimit, s.cfg.TransactionTimeout, retry.Backoff, onDeadlockRetry)
	})
	if err != nil {
		s.metrics.RecordBatchFailure()
		logger.Error("batch commit failed, events lost", "event_count", len(events), "error", err)
		return err
	}

	elapsed := time.Since(t0)
	s.metrics.RecordBatch(len(events), elapsed)
	logger.Info("batch committed", "event_count", len(events), "elapsed", elapsed, "rate_per_sec", float64(len(events))/elapsed.Seconds())

	return nil
}

func (s *Scheduler) runMonitor(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.safeReportStats(ctx)
		}
	}
}

// safeReportStats recovers a panic so a single bad stats tick can't take
// down the monitor goroutine for the rest of the process's life.
func (s *Scheduler) safeReportStats(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic in stats monitor, recovering", "panic", fmt.Sprintf("%v", rec))
		}
	}()

	snap := s.Snapshot(ctx)
	s.logger.Info("throughput report",
		"queue_length", snap.QueueLength,
		"workers", snap.Workers,
		"processed_total", snap.ProcessedTotal,
		"batches_total", snap.BatchesTotal,
		"deadlock_retries_total", snap.DeadlockRetries,
	)
}

func sleepOrStop(ctx context.Context, stopCh <-chan struct{}, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-stopCh:
	case <-time.After(d):
	}
}
