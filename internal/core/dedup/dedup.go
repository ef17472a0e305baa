// Package dedup derives the identity that must not be double-counted for
// each event type. The derived keys name persisted markers; marker existence
// is the sole source of truth for "already counted".
package dedup

import (
	"fmt"

	v1 "github.com/rentpulse-lab/project-rentpulse/internal/api/v1"
)

// Dimension names the actor-like identity a marker is scoped to.
type Dimension string

const (
	// DimensionSession dedupes VIEW events per client session.
	DimensionSession Dimension = "session"
	// DimensionActor dedupes SAVE events per authenticated user.
	DimensionActor Dimension = "actor"
	// DimensionConversation dedupes MESSAGE events per chat thread.
	DimensionConversation Dimension = "conversation"
)

// Scope is the time horizon of a marker.
type Scope string

const (
	// ScopeDay markers expire logically at the UTC day boundary: the same
	// identity counts again on the next calendar day.
	ScopeDay Scope = "day"
	// ScopeLifetime markers are terminal: once SEEN, never counted again.
	ScopeLifetime Scope = "lifetime"
)

// Marker is one derived dedup identity. DayKey is empty for lifetime scope.
type Marker struct {
	Dimension Dimension
	Scope     Scope
	ListingID string
	Subject   string
	DayKey    string
}

// ViewKeys returns the two markers a VIEW event is checked against: the
// day-scoped (listing, session, day) marker guarding the daily view count,
// and the lifetime (listing, session) marker guarding unique sessions.
func ViewKeys(evt *v1.Event, dayKey string) (day Marker, lifetime Marker) {
	day = Marker{
		Dimension: DimensionSession,
		Scope:     ScopeDay,
		ListingID: evt.ListingID,
		Subject:   evt.SessionID,
		DayKey:    dayKey,
	}
	lifetime = Marker{
		Dimension: DimensionSession,
		Scope:     ScopeLifetime,
		ListingID: evt.ListingID,
		Subject:   evt.SessionID,
	}
	return day, lifetime
}

// SaveKey returns the lifetime (listing, actor) marker for a SAVE event.
// Repeated save toggles by the same actor never re-increment.
func SaveKey(evt *v1.Event) Marker {
	return Marker{
		Dimension: DimensionActor,
		Scope:     ScopeLifetime,
		ListingID: evt.ListingID,
		Subject:   evt.ActorID,
	}
}

// MessageKey returns the lifetime (listing, conversation) marker for a
// MESSAGE event. A conversation counts once regardless of later messages.
func MessageKey(evt *v1.Event) Marker {
	return Marker{
		Dimension: DimensionConversation,
		Scope:     ScopeLifetime,
		ListingID: evt.ListingID,
		Subject:   evt.ConversationID,
	}
}

// String renders the marker identity, useful in logs.
func (m Marker) String() string {
	if m.Scope == ScopeDay {
		return fmt.Sprintf("%s/%s/%s@%s", m.Dimension, m.ListingID, m.Subject, m.DayKey)
	}
	return fmt.Sprintf("%s/%s/%s", m.Dimension, m.ListingID, m.Subject)
}
