package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/planner"
)

type recordedExec struct {
	sql  string
	args []interface{}
}

type fakeExecer struct {
	calls []recordedExec
	err   error
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, recordedExec{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestInsertReferrals_EmptyIsNoop(t *testing.T) {
	f := &fakeExecer{}
	require.NoError(t, insertReferrals(context.Background(), f, nil))
	assert.Empty(t, f.calls)
}

func TestInsertReferrals_BuildsMultiRowInsert(t *testing.T) {
	f := &fakeExecer{}
	edges := []ResolvedEdge{{ReferrerID: 1, ReferredID: 2}, {ReferrerID: 3, ReferredID: 4}}
	require.NoError(t, insertReferrals(context.Background(), f, edges))
	require.Len(t, f.calls, 1)
	assert.Contains(t, f.calls[0].sql, "ON CONFLICT (referrer_id, referred_id) DO NOTHING")
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3), int64(4)}, f.calls[0].args)
}

func TestUpsertFriendships_ChunksAtHundred(t *testing.T) {
	f := &fakeExecer{}
	pairs := make([]ResolvedPair, 250)
	for i := range pairs {
		pairs[i] = ResolvedPair{User1ID: int64(i), User2ID: int64(i + 1)}
	}
	require.NoError(t, upsertFriendships(context.Background(), f, pairs))
	assert.Len(t, f.calls, 3)
}

func TestDeactivateFriendships_GuardsOnActiveStatus(t *testing.T) {
	f := &fakeExecer{}
	require.NoError(t, deactivateFriendships(context.Background(), f, []ResolvedPair{{User1ID: 1, User2ID: 2}}))
	require.Len(t, f.calls, 1)
	assert.Contains(t, f.calls[0].sql, "status = 'ACTIVE'")
	assert.Contains(t, f.calls[0].sql, "SET status = 'INACTIVE'")
}

func TestCanonicalize_OrdersAscending(t *testing.T) {
	a, b := Canonicalize(5, 2)
	assert.Equal(t, int64(2), a)
	assert.Equal(t, int64(5), b)

	a, b = Canonicalize(2, 5)
	assert.Equal(t, int64(2), a)
	assert.Equal(t, int64(5), b)
}

func TestResolve_SkipsUnresolvedNamesDefensively(t *testing.T) {
	plan := planner.Plan{
		Friendships: []planner.FriendPair{{NameA: "alice", NameB: "bob"}, {NameA: "missing", NameB: "bob"}},
	}
	ids := map[string]int64{"alice": 10, "bob": 20}

	rp := Resolve(plan, ids)

	require.Len(t, rp.Friendships, 1)
	assert.Equal(t, int64(10), rp.Friendships[0].User1ID)
	assert.Equal(t, int64(20), rp.Friendships[0].User2ID)
}

func TestIsDeadlock_MatchesSQLStateAndMessage(t *testing.T) {
	assert.True(t, IsDeadlock(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsDeadlock(errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")))
	assert.False(t, IsDeadlock(errors.New("connection reset")))
	assert.False(t, IsDeadlock(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}
