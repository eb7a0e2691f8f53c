package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// wirePayload is the structural shape of every queue payload; fields not
// relevant to a given "type" are simply left zero-valued.
type wirePayload struct {
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	ReferredBy  string     `json:"referredBy"`
	ReferredBy2 string     `json:"referred_by"`
	User        string     `json:"user"`
	User1Name   string     `json:"user1_name"`
	User2Name   string     `json:"user2_name"`
	CreatedAt   *time.Time `json:"created_at"`
}

// Decoder turns raw queue payloads into Events. It is pure and stateless;
// malformed or unrecognized payloads are logged and dropped rather than
// propagated, per spec — a batch never fails because of one bad payload.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder constructs a Decoder. A nil logger falls back to slog.Default().
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// DecodeBatch parses every raw payload, skipping and logging ones that fail
// structural validation. The returned slice preserves input order.
func (d *Decoder) DecodeBatch(raw []string) []Event {
	events, _ := d.DecodeBatchCounted(raw)
	return events
}

// DecodeBatchCounted behaves like DecodeBatch but also reports how many
// payloads were dropped, for callers that want to surface that as a metric.
func (d *Decoder) DecodeBatchCounted(raw []string) ([]Event, int) {
	out := make([]Event, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		ev, err := d.decodeOne([]byte(r))
		if err != nil {
			d.logger.Warn("dropping malformed event", "error", err)
			dropped++
			continue
		}
		out = append(out, ev)
	}
	return out, dropped
}

func (d *Decoder) decodeOne(raw []byte) (Event, error) {
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("decode payload: %w", err)
	}

	createdAt := time.Now().UTC()
	if w.CreatedAt != nil {
		createdAt = *w.CreatedAt
	}

	ev := Event{Raw: append([]byte(nil), raw...), CreatedAt: createdAt}

	switch EventType(w.Type) {
	case TypeRegister:
		if w.Name == "" {
			return Event{}, fmt.Errorf("register event missing name")
		}
		ev.Type = TypeRegister
		ev.Name = w.Name

	case TypeReferral:
		referredBy := w.ReferredBy
		if referredBy == "" {
			referredBy = w.ReferredBy2
		}
		if referredBy == "" || w.User == "" {
			return Event{}, fmt.Errorf("referral event missing referredBy/user")
		}
		ev.Type = TypeReferral
		ev.ReferredBy = referredBy
		ev.User = w.User

	case TypeAddFriend:
		if w.User1Name == "" || w.User2Name == "" {
			return Event{}, fmt.Errorf("addfriend event missing user1_name/user2_name")
		}
		ev.Type = TypeAddFriend
		ev.User1Name = w.User1Name
		ev.User2Name = w.User2Name

	case TypeUnfriend:
		if w.User1Name == "" || w.User2Name == "" {
			return Event{}, fmt.Errorf("unfriend event missing user1_name/user2_name")
		}
		ev.Type = TypeUnfriend
		ev.User1Name = w.User1Name
		ev.User2Name = w.User2Name

	default:
		return Event{}, fmt.Errorf("unknown event type %q", w.Type)
	}

	for _, name := range ev.Names() {
		if len(name) > maxNameLength {
			return Event{}, fmt.Errorf("name %q exceeds %d chars", name, maxNameLength)
		}
	}

	return ev, nil
}

const maxNameLength = 255
