// Package planner groups a decoded batch of events into the bulk
// operations the store projector needs, de-duplicating friend/unfriend
// churn on the same pair down to its terminal state.
package planner

import (
	"encoding/json"

	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/ingest"
)

// ReferralEdge is a directed referrer -> referred relationship, by name.
type ReferralEdge struct {
	ReferrerName string
	ReferredName string
}

// FriendPair is an unordered pair, by name, awaiting id resolution.
type FriendPair struct {
	NameA string
	NameB string
}

// LogRecord is one transaction-log row awaiting the subject's resolved id.
type LogRecord struct {
	SubjectName string
	Type        string
	Raw         json.RawMessage
}

// Plan is the ephemeral, per-batch representation handed to the store
// projector once user ids have been resolved.
type Plan struct {
	NewUsers      map[string]struct{}
	Referrals     []ReferralEdge
	Friendships   []FriendPair
	Unfriendships []FriendPair
	Logs          []LogRecord
}

// pairKey is an unordered key over two names, used only to track the
// terminal add/unfriend state per pair within a single batch.
type pairKey struct {
	a, b string
}

func makePairKey(a, b string) pairKey {
	if a <= b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

// Plan builds a Plan from a decoded event batch. Friend/unfriend churn on
// the same pair is coalesced to its last-in-input-order action: the store
// projector applies all friendships then all unfriendships as two grouped
// bulk statements (spec §4.5), so only the terminal action per pair may be
// emitted or an earlier toggle would incorrectly win.
func Plan(events []ingest.Event) Plan {
	plan := Plan{
		NewUsers: make(map[string]struct{}),
	}

	// pairOrder preserves first-appearance order for the two pair lists;
	// pairActive tracks the terminal action (true = friend, false = unfriend).
	var pairOrder []pairKey
	pairNames := make(map[pairKey]FriendPair)
	pairActive := make(map[pairKey]bool)

	for _, ev := range events {
		for _, name := range ev.Names() {
			plan.NewUsers[name] = struct{}{}
		}

		switch ev.Type {
		case ingest.TypeRegister:
			plan.Logs = append(plan.Logs, LogRecord{
				SubjectName: ev.Subject(),
				Type:        string(ingest.TypeRegister),
				Raw:         json.RawMessage(ev.Raw),
			})

		case ingest.TypeReferral:
			plan.Referrals = append(plan.Referrals, ReferralEdge{
				ReferrerName: ev.ReferredBy,
				ReferredName: ev.User,
			})
			plan.Logs = append(plan.Logs, LogRecord{
				SubjectName: ev.Subject(),
				Type:        string(ingest.TypeReferral),
				Raw:         json.RawMessage(ev.Raw),
			})

		case ingest.TypeAddFriend, ingest.TypeUnfriend:
			key := makePairKey(ev.User1Name, ev.User2Name)
			if _, seen := pairNames[key]; !seen {
				pairOrder = append(pairOrder, key)
				pairNames[key] = FriendPair{NameA: ev.User1Name, NameB: ev.User2Name}
			}
			pairActive[key] = ev.Type == ingest.TypeAddFriend

			logType := string(ingest.TypeAddFriend)
			if ev.Type == ingest.TypeUnfriend {
				logType = string(ingest.TypeUnfriend)
			}
			plan.Logs = append(plan.Logs, LogRecord{
				SubjectName: ev.Subject(),
				Type:        logType,
				Raw:         json.RawMessage(ev.Raw),
			})
		}
	}

	for _, key := range pairOrder {
		pair := pairNames[key]
		if pairActive[key] {
			plan.Friendships = append(plan.Friendships, pair)
		} else {
			plan.Unfriendships = append(plan.Unfriendships, pair)
		}
	}

	return plan
}
