package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
)

// CounterAdapter implements storage.CounterStore using PostgreSQL.
//
// Every Apply method is one serializable transaction: marker existence reads
// first, then marker inserts and counter merge-upserts. Marker-exists and
// counter-incremented are therefore never observably inconsistent, and two
// concurrent deliveries of the same logical event cannot both increment —
// one of them fails the commit with a conflict the caller retries.
type CounterAdapter struct {
	db *sql.DB
}

// NewCounterAdapter creates a CounterAdapter sharing the given connection.
func NewCounterAdapter(db *sql.DB) *CounterAdapter {
	return &CounterAdapter{db: db}
}

var serializableOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}

// ApplyView applies one VIEW event.
//
// Day marker present: only last-seen timestamps are refreshed — the
// non-duplicative side effect a duplicate delivery is still allowed.
// Day marker absent: the day bucket counts the view and the session as
// unique-for-that-day; the lifetime snapshot additionally counts the session
// as globally unique when its lifetime marker is new.
func (a *CounterAdapter) ApplyView(ctx context.Context, m storage.ViewMutation) (storage.ViewOutcome, error) {
	var outcome storage.ViewOutcome

	tx, err := a.db.BeginTx(ctx, serializableOpts)
	if err != nil {
		return outcome, fmt.Errorf("apply view: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Read set: both markers, before any write.
	var dayMarkerExists, sessionMarkerExists bool
	if err := tx.QueryRowContext(ctx, queryViewDayMarkerExists, m.ListingID, m.SessionID, m.Day).Scan(&dayMarkerExists); err != nil {
		return outcome, classifyTxError("apply view: read day marker", err)
	}
	if err := tx.QueryRowContext(ctx, querySessionMarkerExists, m.ListingID, m.SessionID).Scan(&sessionMarkerExists); err != nil {
		return outcome, classifyTxError("apply view: read session marker", err)
	}

	if dayMarkerExists {
		if _, err := tx.ExecContext(ctx, queryTouchDailyView, m.ListingID, m.Day, m.At); err != nil {
			return outcome, classifyTxError("apply view: touch day bucket", err)
		}
		if _, err := tx.ExecContext(ctx, queryTouchLifetime, m.ListingID, m.At); err != nil {
			return outcome, classifyTxError("apply view: touch lifetime", err)
		}
		if err := tx.Commit(); err != nil {
			return outcome, classifyTxError("apply view: commit", err)
		}
		return storage.ViewOutcome{Counted: false}, nil
	}

	if _, err := tx.ExecContext(ctx, queryInsertViewDayMarker, m.ListingID, m.SessionID, m.Day, m.At); err != nil {
		return outcome, classifyTxError("apply view: insert day marker", err)
	}

	sessionDelta := int64(0)
	if !sessionMarkerExists {
		if _, err := tx.ExecContext(ctx, queryInsertSessionMarker, m.ListingID, m.SessionID, m.At); err != nil {
			return outcome, classifyTxError("apply view: insert session marker", err)
		}
		sessionDelta = 1
	}

	if _, err := tx.ExecContext(ctx, queryBumpDailyView, m.ListingID, m.Day, m.At); err != nil {
		return outcome, classifyTxError("apply view: bump day bucket", err)
	}

	if _, err := tx.ExecContext(ctx, queryBumpLifetime,
		m.ListingID,
		int64(1),     // views_total
		sessionDelta, // unique_sessions_total
		int64(0),     // saves_total
		int64(0),     // messages_total
		m.At,
	); err != nil {
		return outcome, classifyTxError("apply view: bump lifetime", err)
	}

	if err := tx.Commit(); err != nil {
		return outcome, classifyTxError("apply view: commit", err)
	}

	slog.Debug("[CounterStore] View counted",
		"listing_id", m.ListingID,
		"session_id", m.SessionID,
		"day", m.Day.Format("2006-01-02"),
		"new_session", sessionDelta == 1)

	return storage.ViewOutcome{Counted: true, NewSession: sessionDelta == 1}, nil
}

// ApplySave applies one SAVE event. The (listing, actor) marker is lifetime
// scoped: repeated toggles never re-increment.
func (a *CounterAdapter) ApplySave(ctx context.Context, m storage.SaveMutation) (bool, error) {
	tx, err := a.db.BeginTx(ctx, serializableOpts)
	if err != nil {
		return false, fmt.Errorf("apply save: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var markerExists bool
	if err := tx.QueryRowContext(ctx, querySaveMarkerExists, m.ListingID, m.ActorID).Scan(&markerExists); err != nil {
		return false, classifyTxError("apply save: read marker", err)
	}

	if markerExists {
		if _, err := tx.ExecContext(ctx, queryTouchDailySave, m.ListingID, m.Day, m.At); err != nil {
			return false, classifyTxError("apply save: touch day bucket", err)
		}
		if _, err := tx.ExecContext(ctx, queryTouchLifetime, m.ListingID, m.At); err != nil {
			return false, classifyTxError("apply save: touch lifetime", err)
		}
		if err := tx.Commit(); err != nil {
			return false, classifyTxError("apply save: commit", err)
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, queryInsertSaveMarker, m.ListingID, m.ActorID, m.At); err != nil {
		return false, classifyTxError("apply save: insert marker", err)
	}
	if _, err := tx.ExecContext(ctx, queryBumpDailySave, m.ListingID, m.Day, m.At); err != nil {
		return false, classifyTxError("apply save: bump day bucket", err)
	}
	if _, err := tx.ExecContext(ctx, queryBumpLifetime,
		m.ListingID, int64(0), int64(0), int64(1), int64(0), m.At,
	); err != nil {
		return false, classifyTxError("apply save: bump lifetime", err)
	}

	if err := tx.Commit(); err != nil {
		return false, classifyTxError("apply save: commit", err)
	}

	slog.Debug("[CounterStore] Save counted",
		"listing_id", m.ListingID,
		"actor_id", m.ActorID,
		"day", m.Day.Format("2006-01-02"))

	return true, nil
}

// ApplyMessage applies one MESSAGE event. The (listing, conversation)
// marker is lifetime scoped: a conversation counts once.
func (a *CounterAdapter) ApplyMessage(ctx context.Context, m storage.MessageMutation) (bool, error) {
	tx, err := a.db.BeginTx(ctx, serializableOpts)
	if err != nil {
		return false, fmt.Errorf("apply message: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var markerExists bool
	if err := tx.QueryRowContext(ctx, queryMessageMarkerExists, m.ListingID, m.ConversationID).Scan(&markerExists); err != nil {
		return false, classifyTxError("apply message: read marker", err)
	}

	if markerExists {
		if _, err := tx.ExecContext(ctx, queryTouchDailyMessage, m.ListingID, m.Day, m.At); err != nil {
			return false, classifyTxError("apply message: touch day bucket", err)
		}
		if _, err := tx.ExecContext(ctx, queryTouchLifetime, m.ListingID, m.At); err != nil {
			return false, classifyTxError("apply message: touch lifetime", err)
		}
		if err := tx.Commit(); err != nil {
			return false, classifyTxError("apply message: commit", err)
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, queryInsertMessageMarker, m.ListingID, m.ConversationID, m.At); err != nil {
		return false, classifyTxError("apply message: insert marker", err)
	}
	if _, err := tx.ExecContext(ctx, queryBumpDailyMessage, m.ListingID, m.Day, m.At); err != nil {
		return false, classifyTxError("apply message: bump day bucket", err)
	}
	if _, err := tx.ExecContext(ctx, queryBumpLifetime,
		m.ListingID, int64(0), int64(0), int64(0), int64(1), m.At,
	); err != nil {
		return false, classifyTxError("apply message: bump lifetime", err)
	}

	if err := tx.Commit(); err != nil {
		return false, classifyTxError("apply message: commit", err)
	}

	slog.Debug("[CounterStore] Message counted",
		"listing_id", m.ListingID,
		"conversation_id", m.ConversationID,
		"day", m.Day.Format("2006-01-02"))

	return true, nil
}

// ApplySearch merge-increments the per-day filter usage histogram and
// records observed amenity labels. No dedup and no read set — the upserts
// are commutative, so the default isolation level is enough; the
// transaction only makes the event's writes all-or-nothing.
func (a *CounterAdapter) ApplySearch(ctx context.Context, m storage.SearchMutation) error {
	if len(m.FilterKeys) == 0 && len(m.Amenities) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, key := range m.FilterKeys {
		if _, err := tx.ExecContext(ctx, queryBumpFilterUsage, m.Day, key); err != nil {
			return classifyTxError("apply search: bump filter usage", err)
		}
	}

	for _, amenity := range m.Amenities {
		if _, err := tx.ExecContext(ctx, queryRecordAmenity, m.Day, amenity); err != nil {
			return classifyTxError("apply search: record amenity", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyTxError("apply search: commit", err)
	}

	slog.Debug("[CounterStore] Search recorded",
		"day", m.Day.Format("2006-01-02"),
		"filter_keys", len(m.FilterKeys),
		"amenities", len(m.Amenities))

	return nil
}
