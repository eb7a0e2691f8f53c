// Package ingest defines the queue's wire-level event variants and the
// decoder that turns a raw queue payload into one of them.
package ingest

import "time"

// EventType discriminates the four wire variants.
type EventType string

const (
	TypeRegister  EventType = "register"
	TypeReferral  EventType = "referral"
	TypeAddFriend EventType = "addfriend"
	TypeUnfriend  EventType = "unfriend"
)

// Event is the closed, tagged sum type every queue payload decodes into.
// Callers switch on the Type field; every variant's fields live directly on
// this one struct (fields of other variants stay zero), not behind an
// interface hierarchy.
type Event struct {
	Type EventType

	// Raw is the original decoded payload, preserved verbatim for the
	// transaction log (spec calls it the "raw event").
	Raw []byte

	// Register
	Name string

	// Referral
	ReferredBy string
	User       string

	// AddFriend / Unfriend
	User1Name string
	User2Name string

	CreatedAt time.Time
}

// Subject returns the name the transaction log row should be attributed to.
// For addfriend/unfriend this is User1Name — an asymmetric modeling choice
// preserved from the source rather than a correctness requirement.
func (e Event) Subject() string {
	switch e.Type {
	case TypeRegister:
		return e.Name
	case TypeReferral:
		return e.User
	case TypeAddFriend, TypeUnfriend:
		return e.User1Name
	default:
		return ""
	}
}

// Names returns every user name this event references.
func (e Event) Names() []string {
	switch e.Type {
	case TypeRegister:
		return []string{e.Name}
	case TypeReferral:
		return []string{e.ReferredBy, e.User}
	case TypeAddFriend, TypeUnfriend:
		return []string{e.User1Name, e.User2Name}
	default:
		return nil
	}
}
