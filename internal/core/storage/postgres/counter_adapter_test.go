package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func existsRow(exists bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(exists)
}

func TestCounterAdapter_ApplyView_NewSessionCountsEverything(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	at := day.Add(10 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryViewDayMarkerExists)).
		WithArgs("lst-1", "sess-a", day).
		WillReturnRows(existsRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(querySessionMarkerExists)).
		WithArgs("lst-1", "sess-a").
		WillReturnRows(existsRow(false))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertViewDayMarker)).
		WithArgs("lst-1", "sess-a", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertSessionMarker)).
		WithArgs("lst-1", "sess-a", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpDailyView)).
		WithArgs("lst-1", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpLifetime)).
		WithArgs("lst-1", int64(1), int64(1), int64(0), int64(0), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := adapter.ApplyView(context.Background(), storage.ViewMutation{
		ListingID: "lst-1", SessionID: "sess-a", Day: day, At: at,
	})
	require.NoError(t, err)
	require.True(t, outcome.Counted)
	require.True(t, outcome.NewSession)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplyView_KnownSessionNewDay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	at := day.Add(time.Hour)

	// Day marker absent, lifetime marker present: the view counts for the
	// new day but the session is not globally new.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryViewDayMarkerExists)).
		WithArgs("lst-1", "sess-a", day).
		WillReturnRows(existsRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(querySessionMarkerExists)).
		WithArgs("lst-1", "sess-a").
		WillReturnRows(existsRow(true))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertViewDayMarker)).
		WithArgs("lst-1", "sess-a", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpDailyView)).
		WithArgs("lst-1", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpLifetime)).
		WithArgs("lst-1", int64(1), int64(0), int64(0), int64(0), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := adapter.ApplyView(context.Background(), storage.ViewMutation{
		ListingID: "lst-1", SessionID: "sess-a", Day: day, At: at,
	})
	require.NoError(t, err)
	require.True(t, outcome.Counted)
	require.False(t, outcome.NewSession)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplyView_DuplicateOnlyTouchesTimestamps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	at := day.Add(12 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryViewDayMarkerExists)).
		WithArgs("lst-1", "sess-a", day).
		WillReturnRows(existsRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(querySessionMarkerExists)).
		WithArgs("lst-1", "sess-a").
		WillReturnRows(existsRow(true))
	mock.ExpectExec(regexp.QuoteMeta(queryTouchDailyView)).
		WithArgs("lst-1", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryTouchLifetime)).
		WithArgs("lst-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := adapter.ApplyView(context.Background(), storage.ViewMutation{
		ListingID: "lst-1", SessionID: "sess-a", Day: day, At: at,
	})
	require.NoError(t, err)
	require.False(t, outcome.Counted)
	require.False(t, outcome.NewSession)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplyView_MarkerRaceMapsToTxConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	at := day.Add(time.Hour)

	// Two deliveries raced: both read "absent", the slower insert hits the
	// marker primary key.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryViewDayMarkerExists)).
		WithArgs("lst-1", "sess-a", day).
		WillReturnRows(existsRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(querySessionMarkerExists)).
		WithArgs("lst-1", "sess-a").
		WillReturnRows(existsRow(false))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertViewDayMarker)).
		WithArgs("lst-1", "sess-a", day, at).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err = adapter.ApplyView(context.Background(), storage.ViewMutation{
		ListingID: "lst-1", SessionID: "sess-a", Day: day, At: at,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrTxConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplyView_SerializationFailureOnCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	at := day.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryViewDayMarkerExists)).
		WithArgs("lst-1", "sess-a", day).
		WillReturnRows(existsRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(querySessionMarkerExists)).
		WithArgs("lst-1", "sess-a").
		WillReturnRows(existsRow(false))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertViewDayMarker)).
		WithArgs("lst-1", "sess-a", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertSessionMarker)).
		WithArgs("lst-1", "sess-a", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpDailyView)).
		WithArgs("lst-1", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpLifetime)).
		WithArgs("lst-1", int64(1), int64(1), int64(0), int64(0), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

	_, err = adapter.ApplyView(context.Background(), storage.ViewMutation{
		ListingID: "lst-1", SessionID: "sess-a", Day: day, At: at,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrTxConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplySave_FirstSaveCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	at := day.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(querySaveMarkerExists)).
		WithArgs("lst-1", "user-a").
		WillReturnRows(existsRow(false))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertSaveMarker)).
		WithArgs("lst-1", "user-a", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpDailySave)).
		WithArgs("lst-1", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpLifetime)).
		WithArgs("lst-1", int64(0), int64(0), int64(1), int64(0), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	counted, err := adapter.ApplySave(context.Background(), storage.SaveMutation{
		ListingID: "lst-1", ActorID: "user-a", Day: day, At: at,
	})
	require.NoError(t, err)
	require.True(t, counted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplySave_RepeatToggleDoesNotCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	at := day.Add(time.Hour)

	// Marker is lifetime scoped: a save from a different day still hits it.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(querySaveMarkerExists)).
		WithArgs("lst-1", "user-a").
		WillReturnRows(existsRow(true))
	mock.ExpectExec(regexp.QuoteMeta(queryTouchDailySave)).
		WithArgs("lst-1", day, at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(queryTouchLifetime)).
		WithArgs("lst-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	counted, err := adapter.ApplySave(context.Background(), storage.SaveMutation{
		ListingID: "lst-1", ActorID: "user-a", Day: day, At: at,
	})
	require.NoError(t, err)
	require.False(t, counted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplyMessage_PerConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	at := day.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryMessageMarkerExists)).
		WithArgs("lst-1", "chat-1").
		WillReturnRows(existsRow(false))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertMessageMarker)).
		WithArgs("lst-1", "chat-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpDailyMessage)).
		WithArgs("lst-1", day, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpLifetime)).
		WithArgs("lst-1", int64(0), int64(0), int64(0), int64(1), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	counted, err := adapter.ApplyMessage(context.Background(), storage.MessageMutation{
		ListingID: "lst-1", ConversationID: "chat-1", Day: day, At: at,
	})
	require.NoError(t, err)
	require.True(t, counted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplySearch_UpsertsEachRetainedKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)
	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	at := day.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryBumpFilterUsage)).
		WithArgs(day, "query").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryBumpFilterUsage)).
		WithArgs(day, "amenity:WiFi").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryRecordAmenity)).
		WithArgs(day, "WiFi").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = adapter.ApplySearch(context.Background(), storage.SearchMutation{
		Day:        day,
		FilterKeys: []string{"query", "amenity:WiFi"},
		Amenities:  []string{"WiFi"},
		At:         at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_ApplySearch_EmptyMutationIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewCounterAdapter(db)

	err = adapter.ApplySearch(context.Background(), storage.SearchMutation{
		Day: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
