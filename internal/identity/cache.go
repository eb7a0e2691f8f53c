// Package identity maintains the worker-process-wide name -> id cache and
// the safe lazy-creation protocol described in spec §4.3.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/retry"
)

// Store is the narrow persistence interface the cache needs; satisfied by
// *store.Store in production and by a fake in tests.
type Store interface {
	ScanAllUsers(ctx context.Context) (map[string]int64, error)
	InsertUser(ctx context.Context, name string) (int64, error)
	GetUserIDByName(ctx context.Context, name string) (int64, error)
}

// DeadlockChecker reports whether an error is a retryable deadlock;
// satisfied by store.IsDeadlock.
type DeadlockChecker func(error) bool

// UniqueViolationChecker reports whether an error is the expected
// unique-constraint race on insert; satisfied by store.IsUniqueViolation.
type UniqueViolationChecker func(error) bool

// Cache is a concurrent name -> id map with TTL refresh and per-name
// single-flight de-duplication of concurrent inserts.
type Cache struct {
	store Store
	ttl   time.Duration

	isDeadlock        DeadlockChecker
	isUniqueViolation UniqueViolationChecker
	maxRetries        int

	// onInsertError is called once per insert attempt that fails terminally
	// (deadlock retries exhausted, a non-deadlock insert error, or a
	// post-race lookup failure) so callers can surface it as a metric. Nil
	// is a valid no-op.
	onInsertError func()

	logger *slog.Logger

	mu          sync.RWMutex
	byName      map[string]int64
	lastRefresh time.Time

	sf singleflight.Group
}

// New constructs a Cache. ttl is the coarse refresh window spec §4.3 calls
// for (30s by default); maxRetries bounds the deadlock-retry ceiling on the
// insert path (spec §6's MAX_RETRIES). onInsertError, if non-nil, is invoked
// once per insert attempt that fails terminally.
func New(store Store, ttl time.Duration, maxRetries int, isDeadlock DeadlockChecker, isUniqueViolation UniqueViolationChecker, logger *slog.Logger, onInsertError func()) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:             store,
		ttl:               ttl,
		maxRetries:        maxRetries,
		isDeadlock:        isDeadlock,
		isUniqueViolation: isUniqueViolation,
		onInsertError:     onInsertError,
		logger:            logger,
		byName:            make(map[string]int64),
	}
}

// Connect performs the full initial scan into the cache.
func (c *Cache) Connect(ctx context.Context) error {
	snapshot, err := c.store.ScanAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("initial user cache scan: %w", err)
	}
	c.mu.Lock()
	c.byName = snapshot
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

// RefreshIfStale re-scans the user table if the TTL has elapsed. The old
// snapshot remains visible to concurrent readers until the new one is
// installed atomically — readers never observe a partially-replaced map.
func (c *Cache) RefreshIfStale(ctx context.Context) error {
	c.mu.RLock()
	stale := time.Since(c.lastRefresh) > c.ttl
	c.mu.RUnlock()
	if !stale {
		return nil
	}
	return c.Connect(ctx)
}

// snapshotGet returns the cached id for name, if any.
func (c *Cache) snapshotGet(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	return id, ok
}

func (c *Cache) set(name string, id int64) {
	c.mu.Lock()
	c.byName[name] = id
	c.mu.Unlock()
}

// EnsureUsersExist resolves every name to an id, inserting rows for any
// name never seen before. Concurrent callers racing on the same unknown
// name share one insert attempt via single-flight.
func (c *Cache) EnsureUsersExist(ctx context.Context, names map[string]struct{}) (map[string]int64, error) {
	result := make(map[string]int64, len(names))
	var misses []string

	for name := range names {
		if id, ok := c.snapshotGet(name); ok {
			result[name] = id
			continue
		}
		misses = append(misses, name)
	}

	for _, name := range misses {
		id, err := c.resolveMiss(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ensure user %q exists: %w", name, err)
		}
		result[name] = id
	}

	return result, nil
}

func (c *Cache) resolveMiss(ctx context.Context, name string) (int64, error) {
	v, err, _ := c.sf.Do(name, func() (interface{}, error) {
		// Re-check under single-flight: another goroutine may have just
		// populated the cache for this name while we were queued.
		if id, ok := c.snapshotGet(name); ok {
			return id, nil
		}
		return c.insertWithRetry(ctx, name)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *Cache) insertWithRetry(ctx context.Context, name string) (int64, error) {
	id, err := c.insertWithRetryAttempt(ctx, name)
	if err != nil && c.onInsertError != nil {
		c.onInsertError()
	}
	return id, err
}

func (c *Cache) insertWithRetryAttempt(ctx context.Context, name string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(retry.Backoff(attempt - 1)):
			}
		}

		id, err := c.store.InsertUser(ctx, name)
		if err == nil {
			c.set(name, id)
			return id, nil
		}

		if c.isUniqueViolation(err) {
			existing, lookupErr := c.store.GetUserIDByName(ctx, name)
			if lookupErr != nil {
				return 0, fmt.Errorf("insert raced but lookup failed: %w", lookupErr)
			}
			c.set(name, existing)
			return existing, nil
		}

		if !c.isDeadlock(err) {
			return 0, err
		}

		c.logger.Warn("deadlock inserting user, retrying", "name", name, "attempt", attempt+1)
		lastErr = err
	}
	return 0, fmt.Errorf("insert user %q failed after %d deadlock retries: %w", name, c.maxRetries, lastErr)
}
