package v1

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types accepted by the ingestion boundary.
const (
	TypeView    = "VIEW"
	TypeSave    = "SAVE"
	TypeMessage = "MESSAGE"
	TypeSearch  = "SEARCH"
)

// maxClockSkew bounds how far a client-supplied timestamp may drift from the
// server clock before it is ignored for day bucketing.
const maxClockSkew = 48 * time.Hour

// Event is one immutable user-behavior record from the marketplace client.
// Identity dimensions decide dedup; the search payload feeds the per-day
// filter usage histogram.
type Event struct {
	// ID is the unique event identifier. Assigned server-side (uuid) when
	// the client omits it; duplicate ids are idempotent no-ops in storage.
	ID string `json:"id"`

	// Type is one of VIEW, SAVE, MESSAGE, SEARCH.
	Type string `json:"event_type"`

	// --- Identity dimensions (required subset depends on Type) ---

	// ListingID is the entity being measured (required for VIEW/SAVE/MESSAGE).
	ListingID string `json:"listing_id,omitempty"`

	// OwnerID is the listing owner, stamped by the client when known.
	// Informational only; ownership checks read the listings table.
	OwnerID string `json:"owner_id,omitempty"`

	// ActorID identifies the authenticated user performing the action.
	ActorID string `json:"actor_id,omitempty"`

	// SessionID identifies the (possibly anonymous) client session.
	SessionID string `json:"session_id,omitempty"`

	// ConversationID identifies the chat thread for MESSAGE events.
	ConversationID string `json:"conversation_id,omitempty"`

	// --- Search payload (SEARCH events only) ---

	// FilterKeys is the ordered list of filter controls the user touched.
	// Filtered against the whitelist before storage.
	FilterKeys []string `json:"filter_keys,omitempty"`

	// Amenities are amenity labels selected in the search filter.
	Amenities []string `json:"amenities,omitempty"`

	MinPrice *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`

	// Price is the listing price at event time (VIEW/SAVE context).
	Price *decimal.Decimal `json:"price,omitempty"`

	// OccurredAt is the best-effort client clock. Trusted only for day
	// bucketing, and only within maxClockSkew of the server clock.
	OccurredAt time.Time `json:"occurred_at"`

	// IngestedAt is the server-side receive time. Set by the ingestion
	// service, never by the client.
	IngestedAt time.Time `json:"ingested_at"`

	// IngestSeq is a monotonic sequence assigned by the database
	// (BIGSERIAL) on append. Not exposed in the public API.
	IngestSeq int64 `json:"-"`
}

// Validate checks that the event carries the identity fields its type
// requires. A validation failure means the event is dropped with no side
// effects; it never surfaces past the ingestion boundary.
func (e *Event) Validate() error {
	switch e.Type {
	case TypeView:
		if e.ListingID == "" {
			return fmt.Errorf("VIEW requires listing_id")
		}
		if e.SessionID == "" {
			return fmt.Errorf("VIEW requires session_id")
		}
	case TypeSave:
		if e.ListingID == "" {
			return fmt.Errorf("SAVE requires listing_id")
		}
		if e.ActorID == "" {
			return fmt.Errorf("SAVE requires actor_id")
		}
	case TypeMessage:
		if e.ListingID == "" {
			return fmt.Errorf("MESSAGE requires listing_id")
		}
		if e.ConversationID == "" {
			return fmt.Errorf("MESSAGE requires conversation_id")
		}
	case TypeSearch:
		if e.ActorID == "" && e.SessionID == "" {
			return fmt.Errorf("SEARCH requires actor_id or session_id")
		}
	case "":
		return fmt.Errorf("event_type is required")
	default:
		return fmt.Errorf("unknown event_type %q", e.Type)
	}
	return nil
}

// AssignTimestamp resolves the effective event timestamp and its UTC day key.
// The server clock is authoritative; a client-supplied timestamp is honored
// for day bucketing only when it is within maxClockSkew of now.
func AssignTimestamp(now, provided time.Time) (time.Time, string) {
	now = now.UTC()
	ts := now
	if !provided.IsZero() {
		provided = provided.UTC()
		skew := now.Sub(provided)
		if skew < 0 {
			skew = -skew
		}
		if skew <= maxClockSkew {
			ts = provided
		}
	}
	return ts, DayKey(ts)
}

// DayKey formats a timestamp as its UTC calendar date. All day bucketing and
// window arithmetic compares these whole dates, never sub-day instants.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ParseDayKey parses a UTC day key back into the midnight instant of that day.
func ParseDayKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key %q: %w", key, err)
	}
	return t, nil
}
