package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	byName     map[string]int64
	nextID     int64
	insertErr  error
	insertHits int32
}

func newFakeStore(seed map[string]int64) *fakeStore {
	s := &fakeStore{byName: make(map[string]int64)}
	for k, v := range seed {
		s.byName[k] = v
		if v >= s.nextID {
			s.nextID = v + 1
		}
	}
	return s
}

func (f *fakeStore) ScanAllUsers(ctx context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.byName))
	for k, v := range f.byName {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) InsertUser(ctx context.Context, name string) (int64, error) {
	atomic.AddInt32(&f.insertHits, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	if _, ok := f.byName[name]; ok {
		return 0, errUniqueViolation
	}
	id := f.nextID
	f.nextID++
	f.byName[name] = id
	return id, nil
}

func (f *fakeStore) GetUserIDByName(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[name]
	if !ok {
		return 0, errors.New("not found")
	}
	return id, nil
}

var errUniqueViolation = errors.New("unique violation")

func isUnique(err error) bool   { return errors.Is(err, errUniqueViolation) }
func isDeadlock(err error) bool { return false }

func namesSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func TestEnsureUsersExist_CacheHitsSkipInsert(t *testing.T) {
	fs := newFakeStore(map[string]int64{"dave": 7})
	c := New(fs, 30*time.Second, 3, isDeadlock, isUnique, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	ids, err := c.EnsureUsersExist(context.Background(), namesSet("dave"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), ids["dave"])
	assert.Zero(t, fs.insertHits, "cache hit must not attempt an insert")
}

func TestEnsureUsersExist_InsertsUnknownNames(t *testing.T) {
	fs := newFakeStore(nil)
	c := New(fs, 30*time.Second, 3, isDeadlock, isUnique, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	ids, err := c.EnsureUsersExist(context.Background(), namesSet("alice", "bob"))
	require.NoError(t, err)
	assert.NotZero(t, ids["alice"])
	assert.NotZero(t, ids["bob"])
	assert.NotEqual(t, ids["alice"], ids["bob"])
}

func TestEnsureUsersExist_SingleFlightDedupesConcurrentMiss(t *testing.T) {
	fs := newFakeStore(nil)
	c := New(fs, 30*time.Second, 3, isDeadlock, isUnique, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	var wg sync.WaitGroup
	results := make([]map[string]int64, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids, err := c.EnsureUsersExist(context.Background(), namesSet("concurrent-user"))
			require.NoError(t, err)
			results[i] = ids
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0]["concurrent-user"], r["concurrent-user"])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fs.insertHits), "only one insert should have been attempted")
}

func TestRefreshIfStale_NoopBeforeTTL(t *testing.T) {
	fs := newFakeStore(map[string]int64{"dave": 1})
	c := New(fs, time.Hour, 3, isDeadlock, isUnique, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	// Mutate store directly to prove a non-stale refresh doesn't re-scan.
	fs.byName["eve"] = 2

	require.NoError(t, c.RefreshIfStale(context.Background()))
	_, ok := c.snapshotGet("eve")
	assert.False(t, ok)
}

func TestEnsureUsersExist_CallsOnInsertErrorOnTerminalFailure(t *testing.T) {
	fs := newFakeStore(nil)
	fs.insertErr = errors.New("connection refused")

	var onInsertErrorCalls int32
	c := New(fs, 30*time.Second, 3, isDeadlock, isUnique, nil, func() {
		atomic.AddInt32(&onInsertErrorCalls, 1)
	})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.EnsureUsersExist(context.Background(), namesSet("alice"))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&onInsertErrorCalls))
}

func TestRefreshIfStale_ReScansAfterTTL(t *testing.T) {
	fs := newFakeStore(map[string]int64{"dave": 1})
	c := New(fs, time.Millisecond, 3, isDeadlock, isUnique, nil, nil)
	require.NoError(t, c.Connect(context.Background()))

	fs.byName["eve"] = 2
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, c.RefreshIfStale(context.Background()))
	id, ok := c.snapshotGet("eve")
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)
}
