package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ajnasrah/viralflow/internal/engine"
	"github.com/ajnasrah/viralflow/internal/model"
	"github.com/ajnasrah/viralflow/internal/store"
	"github.com/ajnasrah/viralflow/pkg/response"
)

// WorkflowHandler exposes the operator API over workflows.
type WorkflowHandler struct {
	engine   *engine.Engine
	validate *validator.Validate
}

func NewWorkflowHandler(eng *engine.Engine, validate *validator.Validate) *WorkflowHandler {
	return &WorkflowHandler{engine: eng, validate: validate}
}

// CreateWorkflowRequest is the operator-facing creation payload.
type CreateWorkflowRequest struct {
	Tenant    string   `json:"tenant" validate:"required"`
	SeedRef   string   `json:"seedRef" validate:"required,min=1,max=500"`
	Platforms []string `json:"platforms" validate:"omitempty,dive,oneof=tiktok instagram youtube facebook linkedin twitter"`
}

// Create starts a workflow for an explicit seed, bypassing the scheduler.
func (h *WorkflowHandler) Create(c *fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", err.Error())
	}

	wf, err := h.engine.CreateWorkflow(c.Context(), req.Tenant, req.SeedRef, req.Platforms)
	if errors.Is(err, engine.ErrUnknownTenant) {
		return response.NotFound(c, "Unknown tenant")
	}
	if errors.Is(err, store.ErrDuplicateSeed) {
		return response.Error(c, fiber.StatusConflict, response.CodeDuplicateSeed, "An active workflow already exists for this seed", nil)
	}
	if err != nil {
		return response.ServiceError(c, "Failed to create workflow")
	}
	return response.Created(c, wf)
}

// Get returns one workflow.
func (h *WorkflowHandler) Get(c *fiber.Ctx) error {
	wf, err := h.engine.Get(c.Context(), c.Params("tenant"), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, "Workflow not found")
	}
	if err != nil {
		return response.ServiceError(c, "Failed to load workflow")
	}
	return response.OK(c, wf)
}

// List returns a tenant's workflows filtered by status.
func (h *WorkflowHandler) List(c *fiber.Ctx) error {
	status := model.Status(c.Query("status"))
	if !status.Valid() {
		return response.ValidationError(c, "Unknown or missing status filter", nil)
	}

	workflows, err := h.engine.List(c.Context(), c.Params("tenant"), status)
	if err != nil {
		return response.ServiceError(c, "Failed to list workflows")
	}
	if workflows == nil {
		workflows = []*model.Workflow{}
	}
	return response.OK(c, fiber.Map{"workflows": workflows, "count": len(workflows)})
}

// Requeue restarts a failed workflow.
func (h *WorkflowHandler) Requeue(c *fiber.Ctx) error {
	wf, err := h.engine.Requeue(c.Context(), c.Params("tenant"), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, "Workflow not found")
	}
	if errors.Is(err, engine.ErrRetryExhausted) {
		return response.Error(c, fiber.StatusConflict, response.CodeRetryExhausted, "Workflow has no retries left", nil)
	}
	if errors.Is(err, store.ErrDuplicateSeed) {
		return response.Error(c, fiber.StatusConflict, response.CodeDuplicateSeed, "A newer workflow already owns this seed", nil)
	}
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}
	return response.Accepted(c, wf)
}
