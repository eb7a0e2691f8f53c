// Package resilience adapts the teacher's gobreaker wrapper to guard the
// projector's two external dependencies (the queue and the store) against
// busy-looping against a wedged backend.
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Config configures a circuit breaker.
type Config struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64

	// MinRequests is the request-count floor ReadyToTrip requires before it
	// will evaluate FailureRatio, so a cold or lightly-loaded breaker never
	// trips on a tiny, statistically meaningless sample.
	MinRequests uint32
}

// QueueConfig sizes a breaker for the queue pop call: popBatch runs once
// per worker loop iteration, so failures accumulate fast, and each failed
// pop is already followed by the worker's ERROR_SLEEP (200ms by default).
// Count over a short 5s window, let several probes through half-open, and
// cool down quickly, since a wedged Redis
// recovers or fails over on the order of seconds, not the minute a wedged
// Postgres transaction pool might need.
func QueueConfig() Config {
	return Config{
		Name:         "queue",
		MaxRequests:  5,
		Interval:     5 * time.Second,
		Timeout:      10 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  10,
	}
}

// StoreConfig sizes a breaker for the transactional commit call. The store
// already absorbs deadlocks internally via Store.Commit's own retry loop,
// so by the time ExecuteSimple sees an error here it is a non-retryable
// failure (connection loss, pool exhaustion, a fatal constraint violation) —
// a rarer, more serious signal than a queue miss. Require fewer failing
// requests before tripping, but hold the breaker open longer, since a
// wedged Postgres instance is unlikely to recover within 10s.
func StoreConfig() Config {
	return Config{
		Name:         "store",
		MaxRequests:  1,
		Interval:     30 * time.Second,
		Timeout:      60 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker wraps gobreaker with state-change logging.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// New creates a Breaker.
func New(cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

// Execute wraps a value-returning function with the breaker and ctx
// cancellation.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return fn()
		}
	})
}

// ExecuteSimple wraps a simple error-returning function by discarding
// Execute's value result.
func (b *Breaker) ExecuteSimple(ctx context.Context, fn func() error) error {
	_, err := b.Execute(ctx, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
