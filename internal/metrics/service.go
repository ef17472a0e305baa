// Package metrics serves the owner-facing funnel metrics API: per-listing 7
// and 30 day windows, derived conversion rates and the marketplace-wide top
// search filters.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	v1 "github.com/rentpulse-lab/project-rentpulse/internal/api/v1"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
	"github.com/rentpulse-lab/project-rentpulse/internal/rollup"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// maxTopFilters caps the filter histogram regardless of configuration.
	maxTopFilters = 10

	// topFiltersWindowDays is the lookback of the top-filters histogram.
	topFiltersWindowDays = 30

	// rateScale is the decimal precision of derived conversion rates.
	rateScale = 4
)

var (
	// ErrNotFound marks a listing id that does not exist.
	ErrNotFound = errors.New("listing not found")
	// ErrPermissionDenied marks a caller who is not the listing owner.
	ErrPermissionDenied = errors.New("caller does not own this listing")
)

// ConversionRates are the derived funnel ratios over the 30 day window.
// A zero denominator yields a zero rate, never an error.
type ConversionRates struct {
	SavePerView    decimal.Decimal `json:"save_per_view"`
	MessagePerView decimal.Decimal `json:"message_per_view"`
	MessagePerSave decimal.Decimal `json:"message_per_save"`
}

// Funnel is the 30 day funnel with its conversion rates.
type Funnel struct {
	Views           int64           `json:"views"`
	Saves           int64           `json:"saves"`
	Messages        int64           `json:"messages"`
	ConversionRates ConversionRates `json:"conversion_rates"`
}

// MetricsResponse is the per-listing metrics payload.
type MetricsResponse struct {
	ListingID  string              `json:"listing_id"`
	OwnerID    string              `json:"owner_id"`
	Metrics7D  rollup.WindowTotals `json:"metrics_7d"`
	Metrics30D rollup.WindowTotals `json:"metrics_30d"`
	Funnel30D  Funnel              `json:"funnel_30d"`
	AsOf       time.Time           `json:"as_of"`
}

// ListingSnapshot is the current listing state embedded in summaries.
type ListingSnapshot struct {
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
	City  string          `json:"city"`
}

// SummaryResponse is the metrics payload extended with the filter histogram
// and the listing snapshot.
type SummaryResponse struct {
	MetricsResponse
	Listing    ListingSnapshot       `json:"listing"`
	TopFilters []storage.FilterCount `json:"top_filters"`
}

// Service implements the metrics read path.
type Service struct {
	stats    storage.StatsReader
	listings storage.ListingStore
	windows  *rollup.Reader
	auth     *Authenticator

	topFiltersLimit int
	nowFn           func() time.Time

	// topFlight collapses concurrent top-filter queries; the histogram is
	// marketplace wide, so every caller asks the same question.
	topFlight singleflight.Group
}

// NewService creates the metrics service.
func NewService(
	stats storage.StatsReader,
	listings storage.ListingStore,
	windows *rollup.Reader,
	auth *Authenticator,
	topFiltersLimit int,
) *Service {
	if topFiltersLimit <= 0 || topFiltersLimit > maxTopFilters {
		topFiltersLimit = maxTopFilters
	}
	return &Service{
		stats:           stats,
		listings:        listings,
		windows:         windows,
		auth:            auth,
		topFiltersLimit: topFiltersLimit,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// GetMetrics resolves the window totals and funnel for one listing.
//
// The checks run strictly in order: the listing must exist before ownership
// is evaluated, so a caller probing foreign ids can distinguish "not found"
// from "not yours" but never read counters either way.
func (s *Service) GetMetrics(ctx context.Context, callerID, listingID string) (*MetricsResponse, error) {
	listing, err := s.authorize(ctx, callerID, listingID)
	if err != nil {
		return nil, err
	}

	asOf := s.nowFn()
	windows, err := s.windows.Windows(ctx, listingID, asOf)
	if err != nil {
		return nil, fmt.Errorf("load metrics for %s: %w", listingID, err)
	}

	resp := buildMetrics(listing, windows, asOf)
	return &resp, nil
}

// GetSummary resolves the metrics payload plus the marketplace-wide top
// filters and the listing's current snapshot. The window rollup and the
// filter histogram load concurrently.
func (s *Service) GetSummary(ctx context.Context, callerID, listingID string) (*SummaryResponse, error) {
	listing, err := s.authorize(ctx, callerID, listingID)
	if err != nil {
		return nil, err
	}

	asOf := s.nowFn()

	var (
		windows    rollup.Windows
		topFilters []storage.FilterCount
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var wErr error
		windows, wErr = s.windows.Windows(gctx, listingID, asOf)
		return wErr
	})
	g.Go(func() error {
		var tErr error
		topFilters, tErr = s.topFilters(gctx, asOf)
		return tErr
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load summary for %s: %w", listingID, err)
	}

	return &SummaryResponse{
		MetricsResponse: buildMetrics(listing, windows, asOf),
		Listing: ListingSnapshot{
			Title: listing.Title,
			Price: listing.Price,
			City:  listing.City,
		},
		TopFilters: topFilters,
	}, nil
}

func (s *Service) authorize(ctx context.Context, callerID, listingID string) (*storage.Listing, error) {
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, storage.ErrListingNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve listing %s: %w", listingID, err)
	}

	if listing.OwnerID != callerID {
		return nil, ErrPermissionDenied
	}
	return listing, nil
}

func (s *Service) topFilters(ctx context.Context, asOf time.Time) ([]storage.FilterCount, error) {
	fromDay := midnightUTC(asOf).AddDate(0, 0, -(topFiltersWindowDays - 1))
	key := fmt.Sprintf("top-filters/%s/%d", v1.DayKey(asOf), s.topFiltersLimit)

	result, err, _ := s.topFlight.Do(key, func() (interface{}, error) {
		return s.stats.TopFilters(ctx, fromDay, s.topFiltersLimit)
	})
	if err != nil {
		return nil, err
	}
	counts, _ := result.([]storage.FilterCount)
	return counts, nil
}

func buildMetrics(listing *storage.Listing, windows rollup.Windows, asOf time.Time) MetricsResponse {
	return MetricsResponse{
		ListingID:  listing.ID,
		OwnerID:    listing.OwnerID,
		Metrics7D:  windows.Last7Days,
		Metrics30D: windows.Last30Days,
		Funnel30D:  deriveFunnel(windows.Last30Days),
		AsOf:       asOf,
	}
}

// deriveFunnel computes conversion rates over the 30 day window.
func deriveFunnel(w rollup.WindowTotals) Funnel {
	return Funnel{
		Views:    w.Views,
		Saves:    w.Saves,
		Messages: w.Messages,
		ConversionRates: ConversionRates{
			SavePerView:    ratio(w.Saves, w.Views),
			MessagePerView: ratio(w.Messages, w.Views),
			MessagePerSave: ratio(w.Messages, w.Saves),
		},
	}
}

func ratio(numerator, denominator int64) decimal.Decimal {
	if denominator == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(numerator).DivRound(decimal.NewFromInt(denominator), rateScale)
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
