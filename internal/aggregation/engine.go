// Package aggregation routes validated events onto the counter store. The
// engine owns the retry policy for transaction conflicts; the store owns the
// dedup semantics.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	v1 "github.com/rentpulse-lab/project-rentpulse/internal/api/v1"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/dedup"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/whitelist"
)

const (
	defaultMaxRetries   = 5
	defaultRetryBackoff = 25 * time.Millisecond
)

// Result reports what one Apply call did.
type Result struct {
	// Dropped means the event failed validation and had no side effects.
	Dropped bool
	// Reason is the drop reason, empty otherwise.
	Reason string
	// Counted means at least one counter advanced. False for duplicate
	// deliveries whose markers already existed.
	Counted bool
	// Day is the UTC day key the event was bucketed under.
	Day string
}

// Engine applies events to the counter store with bounded retries on
// transaction conflicts. Safe for concurrent use.
type Engine struct {
	counters   storage.CounterStore
	filters    *whitelist.Whitelist
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the conflict retry bounds.
func WithRetryPolicy(maxRetries int, backoff time.Duration) Option {
	return func(e *Engine) {
		if maxRetries > 0 {
			e.maxRetries = maxRetries
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

// WithClock overrides the server clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an aggregation engine over the given counter store.
func NewEngine(counters storage.CounterStore, filters *whitelist.Whitelist, opts ...Option) *Engine {
	e := &Engine{
		counters:   counters,
		filters:    filters,
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply validates one event, resolves its day bucket and routes it to the
// counter store.
//
// Validation failures drop the event with zero side effects and a nil error.
// Store failures after retries are returned to the caller; the raw event is
// already durable, so a redelivery can reapply it safely.
func (e *Engine) Apply(ctx context.Context, evt *v1.Event) (Result, error) {
	if err := evt.Validate(); err != nil {
		slog.Warn("[Aggregation] Event dropped",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"reason", err.Error())
		return Result{Dropped: true, Reason: err.Error()}, nil
	}

	ts, dayKey := v1.AssignTimestamp(e.now(), evt.OccurredAt)
	day, err := v1.ParseDayKey(dayKey)
	if err != nil {
		return Result{}, fmt.Errorf("resolve day bucket: %w", err)
	}

	switch evt.Type {
	case v1.TypeView:
		return e.applyView(ctx, evt, day, dayKey, ts)
	case v1.TypeSave:
		return e.applySave(ctx, evt, day, dayKey, ts)
	case v1.TypeMessage:
		return e.applyMessage(ctx, evt, day, dayKey, ts)
	case v1.TypeSearch:
		return e.applySearch(ctx, evt, day, dayKey, ts)
	}

	// Unreachable after Validate, kept as a guard.
	return Result{Dropped: true, Reason: "unknown event type"}, nil
}

func (e *Engine) applyView(ctx context.Context, evt *v1.Event, day time.Time, dayKey string, ts time.Time) (Result, error) {
	dayMarker, _ := dedup.ViewKeys(evt, dayKey)

	var outcome storage.ViewOutcome
	err := e.withRetries(ctx, dayMarker.String(), func() error {
		var applyErr error
		outcome, applyErr = e.counters.ApplyView(ctx, storage.ViewMutation{
			ListingID: evt.ListingID,
			SessionID: evt.SessionID,
			Day:       day,
			At:        ts,
		})
		return applyErr
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Counted: outcome.Counted, Day: dayKey}, nil
}

func (e *Engine) applySave(ctx context.Context, evt *v1.Event, day time.Time, dayKey string, ts time.Time) (Result, error) {
	marker := dedup.SaveKey(evt)

	var counted bool
	err := e.withRetries(ctx, marker.String(), func() error {
		var applyErr error
		counted, applyErr = e.counters.ApplySave(ctx, storage.SaveMutation{
			ListingID: evt.ListingID,
			ActorID:   evt.ActorID,
			Day:       day,
			At:        ts,
		})
		return applyErr
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Counted: counted, Day: dayKey}, nil
}

func (e *Engine) applyMessage(ctx context.Context, evt *v1.Event, day time.Time, dayKey string, ts time.Time) (Result, error) {
	marker := dedup.MessageKey(evt)

	var counted bool
	err := e.withRetries(ctx, marker.String(), func() error {
		var applyErr error
		counted, applyErr = e.counters.ApplyMessage(ctx, storage.MessageMutation{
			ListingID:      evt.ListingID,
			ConversationID: evt.ConversationID,
			Day:            day,
			At:             ts,
		})
		return applyErr
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Counted: counted, Day: dayKey}, nil
}

func (e *Engine) applySearch(ctx context.Context, evt *v1.Event, day time.Time, dayKey string, ts time.Time) (Result, error) {
	keys := e.filters.FilterKeys(evt.FilterKeys)
	amenities := e.filters.FilterAmenities(evt.Amenities)

	if len(keys) == 0 && len(amenities) == 0 {
		// Nothing survived the whitelist. Not an error, nothing to count.
		return Result{Counted: false, Day: dayKey}, nil
	}

	err := e.withRetries(ctx, "search/"+dayKey, func() error {
		return e.counters.ApplySearch(ctx, storage.SearchMutation{
			Day:        day,
			FilterKeys: keys,
			Amenities:  amenities,
			At:         ts,
		})
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Counted: true, Day: dayKey}, nil
}

// withRetries runs fn, retrying only on storage.ErrTxConflict with
// exponential backoff plus jitter. Any other error aborts immediately.
func (e *Engine) withRetries(ctx context.Context, key string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(e.backoff)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, storage.ErrTxConflict) {
			return lastErr
		}

		slog.Debug("[Aggregation] Tx conflict, retrying",
			"key", key,
			"attempt", attempt+1,
			"max_retries", e.maxRetries)
	}

	return fmt.Errorf("apply gave up after %d attempts: %w", e.maxRetries, lastErr)
}
