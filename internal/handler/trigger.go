package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ajnasrah/viralflow/internal/engine"
	"github.com/ajnasrah/viralflow/pkg/response"
)

// TriggerHandler exposes the time-driven entry points over HTTP so external
// cron services and operators can run them on demand. The same engine code
// backs the in-process periodic tasks.
type TriggerHandler struct {
	engine *engine.Engine
}

func NewTriggerHandler(eng *engine.Engine) *TriggerHandler {
	return &TriggerHandler{engine: eng}
}

// Schedule runs one scheduling tick. ?force=true bypasses quota and the tick
// lock; ?tenant= limits the run to one tenant.
func (h *TriggerHandler) Schedule(c *fiber.Ctx) error {
	summary, err := h.engine.RunSchedule(c.Context(), engine.ScheduleOptions{
		Force:  c.Query("force") == "true",
		Tenant: c.Query("tenant"),
	})
	if err != nil {
		return response.ServiceError(c, "Scheduler run failed")
	}
	return response.OK(c, summary)
}

// Sweep runs one reconciliation pass.
func (h *TriggerHandler) Sweep(c *fiber.Ctx) error {
	summary, err := h.engine.RunSweep(c.Context())
	if err != nil {
		return response.ServiceError(c, "Sweeper run failed")
	}
	return response.OK(c, summary)
}
