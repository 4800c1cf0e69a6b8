package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/tracker"
)

// CleanupPolicy sets how long finished rows are kept before pruning.
type CleanupPolicy struct {
	RunRetention          time.Duration
	ContinuationRetention time.Duration
	TrackerRetention      time.Duration
}

// DefaultCleanupPolicy keeps a month of execution history and a quarter of
// dedup ledger.
var DefaultCleanupPolicy = CleanupPolicy{
	RunRetention:          30 * 24 * time.Hour,
	ContinuationRetention: 30 * 24 * time.Hour,
	TrackerRetention:      tracker.DefaultRetention,
}

// CleanupStats reports what one cleanup pass removed.
type CleanupStats struct {
	RunsRemoved          int64
	ContinuationsRemoved int64
	TrackerRemoved       int64
}

// Cleaner prunes terminal runs, finished continuations, and expired tracker
// entries. Non-terminal runs and scheduled continuations are never touched.
type Cleaner struct {
	persistence persistence.Persistence
	tracker     *tracker.Tracker
	policy      CleanupPolicy
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewCleaner(
	p persistence.Persistence,
	trk *tracker.Tracker,
	policy CleanupPolicy,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Cleaner {
	return &Cleaner{
		persistence: p,
		tracker:     trk,
		policy:      policy,
		clock:       clock,
		logger:      logger.With("module", "cleanup"),
	}
}

// Run executes one cleanup pass. Each pruning step runs even if a previous one
// failed; the errors are joined.
func (c *Cleaner) Run(ctx context.Context) (CleanupStats, error) {
	var (
		stats CleanupStats
		errs  []error
	)

	now := c.clock.Now().UTC()

	removed, err := c.persistence.ExecutionRepository().DeleteTerminalBefore(ctx, now.Add(-c.policy.RunRetention))
	if err != nil {
		errs = append(errs, err)
	} else {
		stats.RunsRemoved = removed
	}

	removed, err = c.persistence.ContinuationRepository().DeleteFinishedBefore(ctx, now.Add(-c.policy.ContinuationRetention))
	if err != nil {
		errs = append(errs, err)
	} else {
		stats.ContinuationsRemoved = removed
	}

	removed, err = c.tracker.CleanupOldRecords(ctx, c.policy.TrackerRetention)
	if err != nil {
		errs = append(errs, err)
	} else {
		stats.TrackerRemoved = removed
	}

	if stats.RunsRemoved+stats.ContinuationsRemoved+stats.TrackerRemoved > 0 {
		c.logger.InfoContext(ctx, "Cleanup pass finished",
			"runs_removed", stats.RunsRemoved,
			"continuations_removed", stats.ContinuationsRemoved,
			"tracker_removed", stats.TrackerRemoved)
	}

	return stats, errors.Join(errs...)
}
