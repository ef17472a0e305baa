package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/rentpulse-lab/project-rentpulse/internal/api/v1"
	"github.com/shopspring/decimal"
)

// ErrDuplicateEvent is returned when an event with the same id was already
// appended to the raw event log.
var ErrDuplicateEvent = errors.New("event already exists")

// ErrTxConflict marks a transient transaction conflict (serialization
// failure or a lost marker-insert race). The aggregation engine retries the
// whole transaction on this error and only on this error.
var ErrTxConflict = errors.New("counter transaction conflict")

// ErrListingNotFound is returned when the listing does not exist.
var ErrListingNotFound = errors.New("listing not found")

// EventStore appends raw events in ingestion order.
type EventStore interface {
	// SaveEvent persists one event and populates IngestSeq.
	// Returns ErrDuplicateEvent when the id was already appended.
	SaveEvent(ctx context.Context, event *v1.Event) error
}

// ViewMutation is one VIEW event reduced to its counter-store effect.
type ViewMutation struct {
	ListingID string
	SessionID string
	Day       time.Time // UTC midnight of the bucket day
	At        time.Time // effective event timestamp
}

// SaveMutation is one SAVE event reduced to its counter-store effect.
type SaveMutation struct {
	ListingID string
	ActorID   string
	Day       time.Time
	At        time.Time
}

// MessageMutation is one MESSAGE event reduced to its counter-store effect.
type MessageMutation struct {
	ListingID      string
	ConversationID string
	Day            time.Time
	At             time.Time
}

// SearchMutation is one SEARCH event reduced to its counter-store effect.
// FilterKeys and Amenities are already whitelist-filtered.
type SearchMutation struct {
	Day        time.Time
	FilterKeys []string
	Amenities  []string
	At         time.Time
}

// ViewOutcome reports what a view transaction actually changed.
type ViewOutcome struct {
	// Counted is true when the day bucket was incremented (day marker was
	// newly created). False means the duplicate path ran: timestamps only.
	Counted bool
	// NewSession is true when the lifetime unique-session marker was newly
	// created alongside the count.
	NewSession bool
}

// CounterStore applies one event's effect to the counter tables.
//
// Contract: each Apply call is ONE database transaction. All dedup marker
// reads happen before any write; marker creation and the counter increments
// it guards commit together or not at all. A conflicting concurrent apply
// surfaces as ErrTxConflict and is safe to retry.
type CounterStore interface {
	ApplyView(ctx context.Context, m ViewMutation) (ViewOutcome, error)

	// ApplySave returns counted=false when the (listing, actor) marker
	// already existed.
	ApplySave(ctx context.Context, m SaveMutation) (counted bool, err error)

	// ApplyMessage returns counted=false when the (listing, conversation)
	// marker already existed.
	ApplyMessage(ctx context.Context, m MessageMutation) (counted bool, err error)

	// ApplySearch merge-increments the per-day filter usage map. No dedup:
	// every valid search event contributes. Increments are commutative, so
	// no read set is captured.
	ApplySearch(ctx context.Context, m SearchMutation) error
}

// DayBucket is the authoritative per-listing, per-UTC-date counter row.
type DayBucket struct {
	ListingID      string
	Day            time.Time
	Views          int64
	UniqueSessions int64
	Saves          int64
	Messages       int64
	LastViewAt     *time.Time
	LastSaveAt     *time.Time
	LastMessageAt  *time.Time
}

// LifetimeSnapshot is the derived cross-day accelerator row. Day buckets
// stay authoritative; the reconciler repairs drift.
type LifetimeSnapshot struct {
	ListingID           string
	ViewsTotal          int64
	UniqueSessionsTotal int64
	SavesTotal          int64
	MessagesTotal       int64
	LastSeenAt          *time.Time
}

// Listing is the read-only view of a listing owned by the CRUD surface.
type Listing struct {
	ID        string
	OwnerID   string
	Title     string
	Price     decimal.Decimal
	City      string
	CreatedAt time.Time
}

// FilterCount is one entry of the aggregated filter-usage histogram.
type FilterCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// StatsReader is the read-only surface over the counter tables.
type StatsReader interface {
	// DayBucketsSince returns the listing's day buckets with day >= fromDay,
	// ordered by day ascending. fromDay is a UTC midnight.
	DayBucketsSince(ctx context.Context, listingID string, fromDay time.Time) ([]DayBucket, error)

	// TopFilters sums per-day filter usage for day >= fromDay and returns
	// the limit most-used keys, count descending, ties broken by key.
	TopFilters(ctx context.Context, fromDay time.Time, limit int) ([]FilterCount, error)
}

// ListingStore resolves listings for ownership checks and summary snapshots.
type ListingStore interface {
	// GetListing returns ErrListingNotFound when the id does not exist.
	GetListing(ctx context.Context, id string) (*Listing, error)
}
