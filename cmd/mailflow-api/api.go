// Package main provides the mailflow API server: execution history reads and
// the event webhooks that fire entity_created and status_changed workflows.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/loanramp/mailflow/pkg/eventbus"
	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/services"
	"github.com/loanramp/mailflow/pkg/web"
	"github.com/loanramp/mailflow/pkg/workflow"
)

type API struct {
	logger         *slog.Logger
	persistence    persistence.Persistence
	eventBus       eventbus.EventBus
	triggerService *workflow.TriggerService
	validate       *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	triggerService *workflow.TriggerService,
) *API {
	return &API{
		logger:         logger,
		persistence:    persistence,
		eventBus:       eventBus,
		triggerService: triggerService,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence)
	executionService := services.NewExecution(a.persistence)

	handlers := web.NewAPIHandlers(
		workflowService,
		executionService,
		a.triggerService,
		a.persistence.TargetRepository(),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Mailflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
