package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
	"github.com/shopspring/decimal"
)

// StatsAdapter is the read-only side over the counter tables plus the
// snapshot-reconciliation writes. It implements storage.StatsReader and
// storage.ListingStore.
type StatsAdapter struct {
	db *sql.DB
}

// NewStatsAdapter creates a StatsAdapter sharing the given connection.
func NewStatsAdapter(db *sql.DB) *StatsAdapter {
	return &StatsAdapter{db: db}
}

// DayBucketsSince returns the listing's day buckets with day >= fromDay,
// ordered by day ascending. The rollup window is at most 31 rows.
func (a *StatsAdapter) DayBucketsSince(ctx context.Context, listingID string, fromDay time.Time) ([]storage.DayBucket, error) {
	rows, err := a.db.QueryContext(ctx, queryDayBucketsSince, listingID, fromDay)
	if err != nil {
		return nil, fmt.Errorf("query day buckets: %w", err)
	}
	defer rows.Close()

	var buckets []storage.DayBucket
	for rows.Next() {
		var b storage.DayBucket
		var lastView, lastSave, lastMessage sql.NullTime

		if err := rows.Scan(
			&b.ListingID,
			&b.Day,
			&b.Views,
			&b.UniqueSessions,
			&b.Saves,
			&b.Messages,
			&lastView,
			&lastSave,
			&lastMessage,
		); err != nil {
			return nil, fmt.Errorf("scan day bucket: %w", err)
		}

		b.Day = b.Day.UTC()
		b.LastViewAt = nullableTime(lastView)
		b.LastSaveAt = nullableTime(lastSave)
		b.LastMessageAt = nullableTime(lastMessage)
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate day buckets: %w", err)
	}

	return buckets, nil
}

// TopFilters sums per-day filter usage for day >= fromDay and returns the
// limit most-used keys. Ordering (count desc, key asc) is done in SQL so the
// result is deterministic under ties.
func (a *StatsAdapter) TopFilters(ctx context.Context, fromDay time.Time, limit int) ([]storage.FilterCount, error) {
	rows, err := a.db.QueryContext(ctx, queryTopFilters, fromDay, limit)
	if err != nil {
		return nil, fmt.Errorf("query top filters: %w", err)
	}
	defer rows.Close()

	var counts []storage.FilterCount
	for rows.Next() {
		var fc storage.FilterCount
		if err := rows.Scan(&fc.Key, &fc.Count); err != nil {
			return nil, fmt.Errorf("scan filter count: %w", err)
		}
		counts = append(counts, fc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filter counts: %w", err)
	}

	return counts, nil
}

// GetListing resolves one listing row for ownership checks and summaries.
// Returns storage.ErrListingNotFound when the id does not exist.
func (a *StatsAdapter) GetListing(ctx context.Context, id string) (*storage.Listing, error) {
	var l storage.Listing
	var priceStr string

	err := a.db.QueryRowContext(ctx, queryGetListing, id).Scan(
		&l.ID,
		&l.OwnerID,
		&l.Title,
		&priceStr,
		&l.City,
		&l.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query listing: %w", err)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse listing price %q: %w", priceStr, err)
	}
	l.Price = price
	l.CreatedAt = l.CreatedAt.UTC()

	return &l, nil
}

// ListActiveListingIDs returns every listing that has at least one day
// bucket. The snapshot reconciler walks this set.
func (a *StatsAdapter) ListActiveListingIDs(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, queryListActiveListings)
	if err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan listing id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing ids: %w", err)
	}

	return ids, nil
}

// RebuildSnapshot recomputes one lifetime snapshot from the authoritative
// day buckets and session markers in a single statement. last_seen_at only
// moves forward so a rebuild never hides activity applied concurrently.
func (a *StatsAdapter) RebuildSnapshot(ctx context.Context, listingID string) error {
	if _, err := a.db.ExecContext(ctx, queryRebuildSnapshot, listingID); err != nil {
		return fmt.Errorf("rebuild snapshot for %s: %w", listingID, err)
	}

	slog.Debug("[StatsAdapter] Snapshot rebuilt", "listing_id", listingID)
	return nil
}
