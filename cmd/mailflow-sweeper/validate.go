package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/loanramp/mailflow/pkg/cmd"
	"github.com/loanramp/mailflow/pkg/log"
	"github.com/loanramp/mailflow/pkg/workflow"
)

var ErrInvalidWorkflows = errors.New("invalid workflows found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate workflow definitions: trigger configs and graph structure",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := slog.With("module", "mailflow-sweeper", "action", "validate")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to initialize persistence: %w", err)
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			workflows, err := persistence.WorkflowRepository().Workflows(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch workflows: %w", err)
			}

			logger.Info("Validating workflows", "count", len(workflows))

			_, _ = fmt.Fprintln(os.Stdout, "Workflow Validation Results:")
			_, _ = fmt.Fprintln(os.Stdout, "============================")

			validator := workflow.NewValidator()
			invalid := 0

			for _, wf := range workflows {
				err := validator.ValidateWorkflow(wf)
				if err != nil {
					invalid++

					_, _ = fmt.Fprintf(os.Stdout, "\nINVALID  %s (%s)\n  %v\n", wf.Name, wf.ID, err)

					continue
				}

				_, _ = fmt.Fprintf(os.Stdout, "\nOK       %s (%s)\n", wf.Name, wf.ID)
			}

			_, _ = fmt.Fprintf(os.Stdout, "\n%d workflows checked, %d invalid\n", len(workflows), invalid)

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, len(workflows))
			}

			return nil
		},
	}
}
