// Package reconcile periodically rebuilds lifetime snapshots from the
// authoritative day buckets and markers. Snapshots are an accelerator; this
// job bounds how long any drift (crash between commits, manual fixes) can
// survive.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SnapshotStore is the slice of the stats store the reconciler needs.
type SnapshotStore interface {
	ListActiveListingIDs(ctx context.Context) ([]string, error)
	RebuildSnapshot(ctx context.Context, listingID string) error
}

// Scheduler runs snapshot reconciliation on a periodic interval.
// It is stateless: each tick independently walks the active listing set.
type Scheduler struct {
	interval    time.Duration
	store       SnapshotStore
	workerCount int
}

// NewScheduler creates a reconciliation scheduler.
func NewScheduler(interval time.Duration, store SnapshotStore, workerCount int) *Scheduler {
	if workerCount <= 0 {
		workerCount = 4
	}
	return &Scheduler{
		interval:    interval,
		store:       store,
		workerCount: workerCount,
	}
}

// Start begins periodic reconciliation. Runs until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Reconciler] Starting snapshot reconciler",
		"interval", s.interval,
		"workers", s.workerCount,
	)

	// Run an initial pass to repair anything left over from a prior crash.
	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			slog.Info("[Reconciler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Reconciler] Running final pass before shutdown...")
			s.runOnce(shutdownCtx)
			slog.Info("[Reconciler] Final pass complete")

			return nil
		}
	}
}

// runOnce rebuilds every active listing's snapshot through a bounded worker
// pool. One listing failing does not stop the others; the pass reports the
// first error and the next tick retries everything.
func (s *Scheduler) runOnce(ctx context.Context) {
	started := time.Now()

	ids, err := s.store.ListActiveListingIDs(ctx)
	if err != nil {
		slog.Error("[Reconciler] Failed to list active listings", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workerCount)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.store.RebuildSnapshot(gctx, id); err != nil {
				slog.Error("[Reconciler] Snapshot rebuild failed",
					"listing_id", id,
					"error", err)
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Warn("[Reconciler] Pass finished with errors",
			"listings", len(ids),
			"error", err,
			"duration", time.Since(started))
		return
	}

	slog.Info("[Reconciler] Pass complete",
		"listings", len(ids),
		"duration", time.Since(started))
}
