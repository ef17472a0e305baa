package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "github.com/rentpulse-lab/project-rentpulse/internal/api/v1"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/whitelist"
	"github.com/stretchr/testify/require"
)

// fakeCounterStore records mutations and fails a configurable number of
// times before succeeding.
type fakeCounterStore struct {
	views    []storage.ViewMutation
	saves    []storage.SaveMutation
	messages []storage.MessageMutation
	searches []storage.SearchMutation

	failuresLeft int
	failWith     error

	viewOutcome storage.ViewOutcome
	counted     bool
}

func (f *fakeCounterStore) maybeFail() error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return f.failWith
	}
	return nil
}

func (f *fakeCounterStore) ApplyView(_ context.Context, m storage.ViewMutation) (storage.ViewOutcome, error) {
	if err := f.maybeFail(); err != nil {
		return storage.ViewOutcome{}, err
	}
	f.views = append(f.views, m)
	return f.viewOutcome, nil
}

func (f *fakeCounterStore) ApplySave(_ context.Context, m storage.SaveMutation) (bool, error) {
	if err := f.maybeFail(); err != nil {
		return false, err
	}
	f.saves = append(f.saves, m)
	return f.counted, nil
}

func (f *fakeCounterStore) ApplyMessage(_ context.Context, m storage.MessageMutation) (bool, error) {
	if err := f.maybeFail(); err != nil {
		return false, err
	}
	f.messages = append(f.messages, m)
	return f.counted, nil
}

func (f *fakeCounterStore) ApplySearch(_ context.Context, m storage.SearchMutation) error {
	if err := f.maybeFail(); err != nil {
		return err
	}
	f.searches = append(f.searches, m)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEngine_Apply_ValidationDropHasNoSideEffects(t *testing.T) {
	store := &fakeCounterStore{}
	engine := NewEngine(store, whitelist.Default())

	res, err := engine.Apply(context.Background(), &v1.Event{
		ID:   "evt-1",
		Type: v1.TypeView,
		// listing_id and session_id missing
	})
	require.NoError(t, err)
	require.True(t, res.Dropped)
	require.NotEmpty(t, res.Reason)
	require.Empty(t, store.views)
}

func TestEngine_Apply_ViewRoutesDayBucket(t *testing.T) {
	now := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	store := &fakeCounterStore{viewOutcome: storage.ViewOutcome{Counted: true, NewSession: true}}
	engine := NewEngine(store, whitelist.Default(), WithClock(fixedClock(now)))

	res, err := engine.Apply(context.Background(), &v1.Event{
		ID:        "evt-1",
		Type:      v1.TypeView,
		ListingID: "lst-1",
		SessionID: "sess-a",
	})
	require.NoError(t, err)
	require.True(t, res.Counted)
	require.Equal(t, "2026-03-15", res.Day)

	require.Len(t, store.views, 1)
	require.Equal(t, "lst-1", store.views[0].ListingID)
	require.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), store.views[0].Day)
	require.Equal(t, now, store.views[0].At)
}

func TestEngine_Apply_ClientTimestampBucketsEarlierDay(t *testing.T) {
	now := time.Date(2026, 3, 16, 1, 0, 0, 0, time.UTC)
	occurred := now.Add(-3 * time.Hour) // still 2026-03-15 in UTC
	store := &fakeCounterStore{counted: true}
	engine := NewEngine(store, whitelist.Default(), WithClock(fixedClock(now)))

	res, err := engine.Apply(context.Background(), &v1.Event{
		ID:         "evt-1",
		Type:       v1.TypeSave,
		ListingID:  "lst-1",
		ActorID:    "user-a",
		OccurredAt: occurred,
	})
	require.NoError(t, err)
	require.Equal(t, "2026-03-15", res.Day)
	require.Len(t, store.saves, 1)
	require.Equal(t, occurred, store.saves[0].At)
}

func TestEngine_Apply_StaleClientTimestampIgnored(t *testing.T) {
	now := time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)
	store := &fakeCounterStore{counted: true}
	engine := NewEngine(store, whitelist.Default(), WithClock(fixedClock(now)))

	res, err := engine.Apply(context.Background(), &v1.Event{
		ID:         "evt-1",
		Type:       v1.TypeSave,
		ListingID:  "lst-1",
		ActorID:    "user-a",
		OccurredAt: now.Add(-80 * time.Hour), // beyond the skew bound
	})
	require.NoError(t, err)
	require.Equal(t, "2026-03-16", res.Day)
	require.Equal(t, now, store.saves[0].At)
}

func TestEngine_Apply_SearchFiltersWhitelist(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	store := &fakeCounterStore{}
	engine := NewEngine(store, whitelist.Default(), WithClock(fixedClock(now)))

	res, err := engine.Apply(context.Background(), &v1.Event{
		ID:         "evt-1",
		Type:       v1.TypeSearch,
		ActorID:    "user-a",
		FilterKeys: []string{"query", "min_price", "amenity:WiFi", "INVALID_KEY", "amenity:NotWhitelisted"},
		Amenities:  []string{"WiFi", "NotWhitelisted"},
	})
	require.NoError(t, err)
	require.True(t, res.Counted)

	require.Len(t, store.searches, 1)
	require.Equal(t, []string{"query", "min_price", "amenity:WiFi"}, store.searches[0].FilterKeys)
	require.Equal(t, []string{"WiFi"}, store.searches[0].Amenities)
}

func TestEngine_Apply_SearchNothingRetainedIsNoop(t *testing.T) {
	store := &fakeCounterStore{}
	engine := NewEngine(store, whitelist.Default())

	res, err := engine.Apply(context.Background(), &v1.Event{
		ID:         "evt-1",
		Type:       v1.TypeSearch,
		SessionID:  "sess-a",
		FilterKeys: []string{"bogus"},
	})
	require.NoError(t, err)
	require.False(t, res.Counted)
	require.Empty(t, store.searches)
}

func TestEngine_Apply_RetriesOnTxConflict(t *testing.T) {
	store := &fakeCounterStore{
		failuresLeft: 2,
		failWith:     storage.ErrTxConflict,
		counted:      true,
	}
	engine := NewEngine(store, whitelist.Default(),
		WithRetryPolicy(5, time.Millisecond))

	res, err := engine.Apply(context.Background(), &v1.Event{
		ID:             "evt-1",
		Type:           v1.TypeMessage,
		ListingID:      "lst-1",
		ConversationID: "chat-1",
	})
	require.NoError(t, err)
	require.True(t, res.Counted)
	require.Len(t, store.messages, 1)
}

func TestEngine_Apply_RetriesExhausted(t *testing.T) {
	store := &fakeCounterStore{
		failuresLeft: 10,
		failWith:     storage.ErrTxConflict,
	}
	engine := NewEngine(store, whitelist.Default(),
		WithRetryPolicy(3, time.Millisecond))

	_, err := engine.Apply(context.Background(), &v1.Event{
		ID:        "evt-1",
		Type:      v1.TypeSave,
		ListingID: "lst-1",
		ActorID:   "user-a",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrTxConflict)
	require.Equal(t, 7, store.failuresLeft) // exactly 3 attempts consumed
}

func TestEngine_Apply_NonConflictErrorDoesNotRetry(t *testing.T) {
	boom := errors.New("connection reset")
	store := &fakeCounterStore{
		failuresLeft: 10,
		failWith:     boom,
	}
	engine := NewEngine(store, whitelist.Default(),
		WithRetryPolicy(5, time.Millisecond))

	_, err := engine.Apply(context.Background(), &v1.Event{
		ID:        "evt-1",
		Type:      v1.TypeSave,
		ListingID: "lst-1",
		ActorID:   "user-a",
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 9, store.failuresLeft) // a single attempt
}
