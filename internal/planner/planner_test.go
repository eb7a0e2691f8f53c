package planner

import (
	"testing"

	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, raw ...string) []ingest.Event {
	t.Helper()
	d := ingest.NewDecoder(nil)
	events := d.DecodeBatch(raw)
	require.Len(t, events, len(raw))
	return events
}

func TestPlan_RegistrationThenFriendship(t *testing.T) {
	events := mustDecode(t,
		`{"type":"register","name":"alice"}`,
		`{"type":"register","name":"bob"}`,
		`{"type":"addfriend","user1_name":"alice","user2_name":"bob"}`,
	)

	plan := Plan(events)

	assert.Len(t, plan.NewUsers, 2)
	assert.Contains(t, plan.NewUsers, "alice")
	assert.Contains(t, plan.NewUsers, "bob")
	require.Len(t, plan.Friendships, 1)
	assert.Empty(t, plan.Unfriendships)
	assert.Len(t, plan.Logs, 3)
}

func TestPlan_ReferralBootstrapsUsers(t *testing.T) {
	events := mustDecode(t, `{"type":"referral","referredBy":"alice","user":"carol"}`)
	plan := Plan(events)

	assert.Contains(t, plan.NewUsers, "alice")
	assert.Contains(t, plan.NewUsers, "carol")
	require.Len(t, plan.Referrals, 1)
	assert.Equal(t, "alice", plan.Referrals[0].ReferrerName)
	assert.Equal(t, "carol", plan.Referrals[0].ReferredName)
	require.Len(t, plan.Logs, 1)
	assert.Equal(t, "carol", plan.Logs[0].SubjectName)
}

func TestPlan_FriendshipToggledWithinOneBatch_LastWins(t *testing.T) {
	events := mustDecode(t,
		`{"type":"addfriend","user1_name":"a","user2_name":"b"}`,
		`{"type":"unfriend","user1_name":"a","user2_name":"b"}`,
		`{"type":"addfriend","user1_name":"a","user2_name":"b"}`,
	)

	plan := Plan(events)

	require.Len(t, plan.Friendships, 1)
	assert.Empty(t, plan.Unfriendships)
	assert.Len(t, plan.Logs, 3, "log count must equal input event count regardless of coalescing")
}

func TestPlan_UnfriendLastWins(t *testing.T) {
	events := mustDecode(t,
		`{"type":"addfriend","user1_name":"a","user2_name":"b"}`,
		`{"type":"addfriend","user1_name":"a","user2_name":"b"}`,
		`{"type":"unfriend","user1_name":"a","user2_name":"b"}`,
	)

	plan := Plan(events)

	assert.Empty(t, plan.Friendships)
	require.Len(t, plan.Unfriendships, 1)
}

func TestPlan_PairOrderIsUnordered(t *testing.T) {
	// (a, b) and (b, a) refer to the same unordered pair and must coalesce.
	events := mustDecode(t,
		`{"type":"addfriend","user1_name":"a","user2_name":"b"}`,
		`{"type":"unfriend","user1_name":"b","user2_name":"a"}`,
	)

	plan := Plan(events)

	assert.Empty(t, plan.Friendships)
	require.Len(t, plan.Unfriendships, 1)
}

func TestPlan_EmptyBatchIsNoop(t *testing.T) {
	plan := Plan(nil)
	assert.Empty(t, plan.NewUsers)
	assert.Empty(t, plan.Referrals)
	assert.Empty(t, plan.Friendships)
	assert.Empty(t, plan.Unfriendships)
	assert.Empty(t, plan.Logs)
}
