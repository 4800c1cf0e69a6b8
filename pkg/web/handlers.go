// Package web provides the HTTP surface: execution history reads and the
// webhook endpoints the loan platform calls to report entity events.
package web

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/services"
	"github.com/loanramp/mailflow/pkg/target"
	"github.com/loanramp/mailflow/pkg/workflow"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	triggerService   *workflow.TriggerService
	targets          target.Store
	validator        *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	triggerService *workflow.TriggerService,
	targets target.Store,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		triggerService:   triggerService,
		targets:          targets,
		validator:        validator,
	}
}

// Register mounts all routes on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.GetHealth)
	app.Get("/workflows", h.GetWorkflows)
	app.Get("/workflows/:id", h.GetWorkflow)
	app.Get("/executions", h.GetExecutions)
	app.Get("/executions/:id", h.GetExecution)
	app.Post("/events/entity-created", h.PostEntityCreated)
	app.Post("/events/status-changed", h.PostStatusChanged)
}

func (h *APIHandlers) GetHealth(c fiber.Ctx) error {
	message, healthy := h.workflowService.HealthCheck(c.Context())

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"status":  message,
		"healthy": healthy,
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.ListWorkflows(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.workflowService.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	req := services.ListExecutionsRequest{
		WorkflowID: c.Query("workflow_id"),
		Status:     c.Query("status"),
		Limit:      fiber.Query[int](c, "limit"),
		Offset:     fiber.Query[int](c, "offset"),
	}

	runs, err := h.executionService.ListExecutions(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": runs})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	run, err := h.executionService.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) PostEntityCreated(c fiber.Ctx) error {
	var req EntityCreatedRequest

	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	ref := models.TargetRef{Type: models.TargetType(req.TargetType), ID: req.TargetID}

	tgt, err := h.targets.Get(c.Context(), ref)
	if err != nil {
		return handleServiceError(c, err)
	}

	started, err := h.triggerService.HandleEntityCreated(c.Context(), tgt)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionsStarted: started})
}

func (h *APIHandlers) PostStatusChanged(c fiber.Ctx) error {
	var req StatusChangedRequest

	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	ref := models.TargetRef{Type: models.TargetType(req.TargetType), ID: req.TargetID}

	tgt, err := h.targets.Get(c.Context(), ref)
	if err != nil {
		return handleServiceError(c, err)
	}

	started, err := h.triggerService.HandleStatusChanged(c.Context(), tgt, req.FromStatus, req.ToStatus)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionsStarted: started})
}
