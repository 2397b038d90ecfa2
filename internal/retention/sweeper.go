package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/wpsave/wpsave/internal/logging"
)

// Item is one sweepable entry at a target. ID is the target-specific handle
// used to delete it (a filesystem path, a remote object ID).
type Item struct {
	ID      string
	Name    string
	Created time.Time
}

// Target enumerates and deletes sweepable items at one location.
type Target interface {
	Name() string
	List(ctx context.Context) ([]Item, error)
	Remove(ctx context.Context, item Item) error
}

// Sweeper removes items older than the retention horizon across its targets.
// The comparison is strictly greater than: an item exactly at the horizon is
// kept. Sweeping is idempotent; a second pass over the same items removes
// nothing.
type Sweeper struct {
	horizon time.Duration
	targets []Target
	logger  *logging.Logger

	now func() time.Time
}

// NewSweeper creates a sweeper with the given horizon in days.
func NewSweeper(horizonDays int, logger *logging.Logger, targets ...Target) *Sweeper {
	return &Sweeper{
		horizon: time.Duration(horizonDays) * 24 * time.Hour,
		targets: targets,
		logger:  logger,
		now:     time.Now,
	}
}

// Sweep deletes every item older than the horizon and returns how many were
// removed. A failed deletion is logged and skipped; remaining items are still
// processed. The returned error reports partial failures and is informational,
// a non-nil error does not mean nothing was removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.horizon)
	s.logger.Debug("Retention sweep: removing items created before %s (horizon %s)",
		cutoff.Format("2006-01-02 15:04:05"), s.horizon)

	removed := 0
	failed := 0
	for _, target := range s.targets {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		items, err := target.List(ctx)
		if err != nil {
			s.logger.Warning("Retention sweep: listing %s failed: %v", target.Name(), err)
			failed++
			continue
		}

		for _, item := range items {
			if !item.Created.Before(cutoff) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return removed, err
			}

			s.logger.Debug("Retention sweep: deleting %s from %s (created %s)",
				item.Name, target.Name(), item.Created.Format("2006-01-02 15:04:05"))
			if err := target.Remove(ctx, item); err != nil {
				s.logger.Warning("Retention sweep: failed to delete %s from %s: %v", item.Name, target.Name(), err)
				failed++
				continue
			}
			removed++
		}
	}

	if failed > 0 {
		return removed, fmt.Errorf("retention sweep: %d items could not be removed", failed)
	}
	return removed, nil
}
