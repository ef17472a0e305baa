// Package rollup derives the 7 and 30 day funnel windows from persisted day
// buckets. Windows are computed on read, never stored, so they can not drift
// from the authoritative counters.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
)

const (
	shortWindowDays = 7
	longWindowDays  = 30
)

// BucketReader is the slice of the stats store the rollup needs.
type BucketReader interface {
	DayBucketsSince(ctx context.Context, listingID string, fromDay time.Time) ([]storage.DayBucket, error)
}

// WindowTotals sums one window's funnel counters.
type WindowTotals struct {
	Views          int64 `json:"views"`
	UniqueSessions int64 `json:"unique_sessions"`
	Saves          int64 `json:"saves"`
	Messages       int64 `json:"messages"`
}

func (w *WindowTotals) add(b storage.DayBucket) {
	w.Views += b.Views
	w.UniqueSessions += b.UniqueSessions
	w.Saves += b.Saves
	w.Messages += b.Messages
}

// Windows holds both rollup windows for one listing.
type Windows struct {
	Last7Days  WindowTotals `json:"last_7_days"`
	Last30Days WindowTotals `json:"last_30_days"`
}

// Reader computes rollup windows over a bucket store.
type Reader struct {
	buckets BucketReader
}

// NewReader creates a rollup reader over the given bucket store.
func NewReader(buckets BucketReader) *Reader {
	return &Reader{buckets: buckets}
}

// Windows returns the 7 and 30 day totals for a listing as of the given
// instant.
//
// Window membership is whole-calendar-day arithmetic on UTC dates: the asOf
// day itself is day 0 and always included, day 6 is the last day of the 7 day
// window, day 29 the last day of the 30 day window. Sub-day precision of asOf
// never matters.
func (r *Reader) Windows(ctx context.Context, listingID string, asOf time.Time) (Windows, error) {
	asOfDay := midnightUTC(asOf)
	fromDay := asOfDay.AddDate(0, 0, -(longWindowDays - 1))

	buckets, err := r.buckets.DayBucketsSince(ctx, listingID, fromDay)
	if err != nil {
		return Windows{}, fmt.Errorf("load day buckets for %s: %w", listingID, err)
	}

	var w Windows
	for _, b := range buckets {
		age := daysBetween(midnightUTC(b.Day), asOfDay)
		if age < 0 || age >= longWindowDays {
			// Future-dated or beyond the long window. The query lower bound
			// already excludes old days; future days can appear when a
			// client clock ran ahead within the accepted skew.
			continue
		}
		w.Last30Days.add(b)
		if age < shortWindowDays {
			w.Last7Days.add(b)
		}
	}

	return w, nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween counts whole calendar days from day to asOfDay. Both arguments
// are UTC midnights, so the division is exact.
func daysBetween(day, asOfDay time.Time) int {
	return int(asOfDay.Sub(day) / (24 * time.Hour))
}
