package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/loanramp/mailflow/pkg/workflow"
)

// Sweeper runs the periodic jobs on cron schedules: the continuation sweep and
// stuck sweep on the sweep schedule, retention cleanup on its own schedule.
type Sweeper struct {
	id              string
	scheduler       *workflow.Scheduler
	stuckSweeper    *workflow.StuckSweeper
	cleaner         *workflow.Cleaner
	sweepSchedule   string
	cleanupSchedule string
	logger          *slog.Logger
}

func NewSweeper(
	id string,
	scheduler *workflow.Scheduler,
	stuckSweeper *workflow.StuckSweeper,
	cleaner *workflow.Cleaner,
	sweepSchedule string,
	cleanupSchedule string,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		id:              id,
		scheduler:       scheduler,
		stuckSweeper:    stuckSweeper,
		cleaner:         cleaner,
		sweepSchedule:   sweepSchedule,
		cleanupSchedule: cleanupSchedule,
		logger:          logger,
	}
}

// Start schedules the jobs and blocks until a shutdown signal or context
// cancellation. A sweep already in progress finishes before shutdown returns.
func (s *Sweeper) Start(ctx context.Context) error {
	runner := cron.New()

	_, err := runner.AddFunc(s.sweepSchedule, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.sweepSchedule, err)
	}

	_, err = runner.AddFunc(s.cleanupSchedule, func() {
		s.runCleanup(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.cleanupSchedule, err)
	}

	s.logger.Info("Starting sweeper",
		"sweep_schedule", s.sweepSchedule, "cleanup_schedule", s.cleanupSchedule)

	// One pass at startup so a restart does not wait a full interval.
	s.runSweep(ctx)

	runner.Start()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		s.logger.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		s.logger.Info("Context cancelled, shutting down")
	}

	<-runner.Stop().Done()
	s.logger.Info("Sweeper stopped")

	return nil
}

func (s *Sweeper) runSweep(ctx context.Context) {
	result, err := s.scheduler.SweepDueContinuations(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Continuation sweep failed", "error", err)
	} else if result.Resumed+result.Failed+result.Skipped > 0 {
		s.logger.InfoContext(ctx, "Continuation sweep finished",
			"resumed", result.Resumed, "failed", result.Failed, "skipped", result.Skipped)
	}

	started, err := s.stuckSweeper.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stuck sweep failed", "error", err)
	} else if started > 0 {
		s.logger.InfoContext(ctx, "Stuck sweep finished", "started", started)
	}
}

func (s *Sweeper) runCleanup(ctx context.Context) {
	stats, err := s.cleaner.Run(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Cleanup failed", "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Cleanup finished",
		"runs_removed", stats.RunsRemoved,
		"continuations_removed", stats.ContinuationsRemoved,
		"tracker_removed", stats.TrackerRemoved)
}
