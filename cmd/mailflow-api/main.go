package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/loanramp/mailflow/pkg/cmd"
	"github.com/loanramp/mailflow/pkg/log"
	"github.com/loanramp/mailflow/pkg/mailer"
	"github.com/loanramp/mailflow/pkg/otelhelper"
	"github.com/loanramp/mailflow/pkg/tracker"
	"github.com/loanramp/mailflow/pkg/workflow"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "mailflow-api",
		Usage:                 "Serve execution history and entity event webhooks",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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

	logger := log.WithModule("mailflow-api")
	logger.InfoContext(ctx, "Initializing mailflow API")

	tracerProvider, err := otelhelper.InitTracer(ctx, "mailflow-api")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "mailflow-api", logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}

	if eventBus != nil {
		defer func() {
			if err := eventBus.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
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
				logger.ErrorContext(ctx, "Failed to close tracker cache", "error", err)
			}
		}()

		cache = redisCache
	}

	clock := clockwork.NewRealClock()
	targets := persistence.TargetRepository()
	trk := tracker.NewTracker(persistence.TrackerRepository(), cache, clock, logger)
	executor := workflow.NewExecutor(persistence, targets, mailer.NewLogMailer(logger), eventBus, clock, logger)
	triggerService := workflow.NewTriggerService(persistence, trk, executor, logger)

	api := NewAPI(logger, persistence, eventBus, triggerService)

	return api.Start(command.Int("port"))
}
