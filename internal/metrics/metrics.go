// Package metrics holds the worker's Prometheus instrumentation, following
// the teacher's BusinessMetrics pattern (one struct of promauto-registered
// collectors, plain Increment/Observe methods).
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker holds the counters and histograms the scheduler and projector
// update as they run, plus a small set of plain counters mirrored outside
// Prometheus for the convenience /stats JSON endpoint.
type Worker struct {
	EventsProcessed   prometheus.Counter
	BatchesProcessed  prometheus.Counter
	BatchDuration     prometheus.Histogram
	DecodeErrors      prometheus.Counter
	DeadlockRetries   prometheus.Counter
	BatchFailures     prometheus.Counter
	CacheInsertErrors prometheus.Counter

	processedTotal atomic.Int64
	batchesTotal   atomic.Int64
	deadlockTotal  atomic.Int64
	decodeErrTotal atomic.Int64
	lastBatchAt    atomic.Int64 // unix nanos
}

// NewWorker constructs and registers the worker's metrics.
func NewWorker() *Worker {
	return &Worker{
		EventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "projector_events_processed_total",
			Help: "Total number of events successfully projected into the store",
		}),
		BatchesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "projector_batches_processed_total",
			Help: "Total number of batches committed",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "projector_batch_duration_seconds",
			Help:    "Wall-clock duration of pop+decode+plan+project per batch",
			Buckets: prometheus.DefBuckets,
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "projector_decode_errors_total",
			Help: "Total number of payloads dropped for failing to decode",
		}),
		DeadlockRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "projector_deadlock_retries_total",
			Help: "Total number of transaction retries triggered by a reported deadlock",
		}),
		BatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "projector_batch_failures_total",
			Help: "Total number of batches that failed with a non-retryable store error",
		}),
		CacheInsertErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "projector_identity_cache_insert_errors_total",
			Help: "Total number of user-identity insert attempts that failed terminally",
		}),
	}
}

// RecordBatch updates both the Prometheus collectors and the plain
// counters backing the /stats endpoint.
func (m *Worker) RecordBatch(eventCount int, duration time.Duration) {
	m.EventsProcessed.Add(float64(eventCount))
	m.BatchesProcessed.Inc()
	m.BatchDuration.Observe(duration.Seconds())
	m.processedTotal.Add(int64(eventCount))
	m.batchesTotal.Add(1)
	m.lastBatchAt.Store(time.Now().UnixNano())
}

func (m *Worker) RecordDecodeError() {
	m.DecodeErrors.Inc()
	m.decodeErrTotal.Add(1)
}

func (m *Worker) RecordDeadlockRetry() {
	m.DeadlockRetries.Inc()
	m.deadlockTotal.Add(1)
}

func (m *Worker) RecordBatchFailure() {
	m.BatchFailures.Inc()
}

func (m *Worker) RecordCacheInsertError() {
	m.CacheInsertErrors.Inc()
}

// Snapshot is the plain-value view exposed by the /stats endpoint.
type Snapshot struct {
	ProcessedTotal  int64     `json:"processed_total"`
	BatchesTotal    int64     `json:"batches_total"`
	DeadlockRetries int64     `json:"deadlock_retries_total"`
	DecodeErrors    int64     `json:"decode_errors_total"`
	LastBatchAt     time.Time `json:"last_batch_at,omitempty"`
}

func (m *Worker) Snapshot() Snapshot {
	s := Snapshot{
		ProcessedTotal:  m.processedTotal.Load(),
		BatchesTotal:    m.batchesTotal.Load(),
		DeadlockRetries: m.deadlockTotal.Load(),
		DecodeErrors:    m.decodeErrTotal.Load(),
	}
	if nanos := m.lastBatchAt.Load(); nanos != 0 {
		s.LastBatchAt = time.Unix(0, nanos)
	}
	return s
}
