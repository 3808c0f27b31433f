package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ajnasrah/viralflow/internal/config"
	"github.com/ajnasrah/viralflow/internal/selector"
	"github.com/ajnasrah/viralflow/pkg/response"
)

// AgentHandler exposes the rotation state of a tenant's rendering agents.
type AgentHandler struct {
	selector *selector.Selector
	tenants  *config.TenantRegistry
	validate *validator.Validate
}

func NewAgentHandler(sel *selector.Selector, tenants *config.TenantRegistry, validate *validator.Validate) *AgentHandler {
	return &AgentHandler{selector: sel, tenants: tenants, validate: validate}
}

// Stats returns the roster with usage counters.
func (h *AgentHandler) Stats(c *fiber.Ctx) error {
	tenant := h.tenants.Get(c.Params("tenant"))
	if tenant == nil {
		return response.NotFound(c, "Unknown tenant")
	}

	stats, err := h.selector.Stats(c.Context(), tenant)
	if err != nil {
		return response.ServiceError(c, "Failed to load agent stats")
	}
	return response.OK(c, fiber.Map{"agents": stats})
}

// PreviewRequest narrows the candidate pool for a preview.
type PreviewRequest struct {
	Language string   `json:"language" validate:"omitempty,len=2"`
	Exclude  []string `json:"exclude"`
}

// Preview shows which agent the selector would pick next, without recording
// the selection.
func (h *AgentHandler) Preview(c *fiber.Ctx) error {
	tenant := h.tenants.Get(c.Params("tenant"))
	if tenant == nil {
		return response.NotFound(c, "Unknown tenant")
	}

	var req PreviewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validate.Struct(&req); err != nil {
			return response.ValidationError(c, "Validation failed", err.Error())
		}
	}

	agent, err := h.selector.Preview(c.Context(), tenant, selector.Options{
		Language: req.Language,
		Exclude:  req.Exclude,
	})
	if err != nil {
		return response.NotFound(c, err.Error())
	}
	return response.OK(c, fiber.Map{"agent": agent})
}

// Reset clears usage counters so rotation starts over.
func (h *AgentHandler) Reset(c *fiber.Ctx) error {
	tenant := h.tenants.Get(c.Params("tenant"))
	if tenant == nil {
		return response.NotFound(c, "Unknown tenant")
	}

	if err := h.selector.Reset(c.Context(), tenant); err != nil {
		return response.ServiceError(c, "Failed to reset agent usage")
	}
	return response.OK(c, fiber.Map{"reset": true})
}
