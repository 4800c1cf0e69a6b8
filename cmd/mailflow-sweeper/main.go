package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/loanramp/mailflow/pkg/cmd"
	"github.com/loanramp/mailflow/pkg/log"
	"github.com/loanramp/mailflow/pkg/mailer"
	"github.com/loanramp/mailflow/pkg/otelhelper"
	"github.com/loanramp/mailflow/pkg/tracker"
	"github.com/loanramp/mailflow/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "mailflow-sweeper",
		Usage:                 "Run the mailflow sweep jobs: continuations, stuck statuses, cleanup",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sweeper-id",
				Aliases: []string{"id"},
				Usage:   "Custom sweeper ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SWEEPER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel, none)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Optional redis URL for the tracker dedup cache",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron schedule for the continuation and stuck sweeps",
				Value:   "@every 1m",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "cleanup-schedule",
				Usage:   "Cron schedule for retention cleanup",
				Value:   "@daily",
				Sources: cli.EnvVars("CLEANUP_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	tracerProvider, err := otelhelper.InitTracer(ctx, "mailflow-sweeper")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	sweeperID := command.String("sweeper-id")
	if sweeperID == "" {
		sweeperID = fmt.Sprintf("sweeper-%s", uuid.NewString()[:8])
	}

	logger := log.WithModule("mailflow-sweeper").With("sweeper_id", sweeperID)
	logger.Info("Initializing mailflow sweeper")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "mailflow-sweeper", logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}

	if eventBus != nil {
		defer func() {
			if err := eventBus.Close(); err != nil {
				logger.Error("Failed to close event bus", "error", err)
			}
		}()
	}

	var cache tracker.Cache

	if redisURL := command.String("redis-url"); redisURL != "" {
		redisCache, err := tracker.NewRedisCache(redisURL)
		if err != nil {
			return fmt.Errorf("failed to initialize tracker cache: %w", err)
		}

		defer func() {
			if err := redisCache.Close(); err != nil {
				logger.Error("Failed to close tracker cache", "error", err)
			}
		}()

		cache = redisCache
	}

	clock := clockwork.NewRealClock()
	targets := persistence.TargetRepository()
	trk := tracker.NewTracker(persistence.TrackerRepository(), cache, clock, logger)

	executor := workflow.NewExecutor(persistence, targets, mailer.NewLogMailer(logger), eventBus, clock, logger)
	scheduler := workflow.NewScheduler(persistence, targets, executor, workflow.DefaultRetryPolicy, eventBus, clock, logger)
	stuckSweeper := workflow.NewStuckSweeper(persistence, targets, trk, executor, clock, logger)
	cleaner := workflow.NewCleaner(persistence, trk, workflow.DefaultCleanupPolicy, clock, logger)

	sweeper := NewSweeper(
		sweeperID,
		scheduler,
		stuckSweeper,
		cleaner,
		command.String("sweep-schedule"),
		command.String("cleanup-schedule"),
		logger,
	)

	return sweeper.Start(ctx)
}
