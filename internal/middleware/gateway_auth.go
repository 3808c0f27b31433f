package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ajnasrah/viralflow/pkg/response"
)

// GatewayAuthMiddleware reads operator identity from X-User-* headers
// set by Traefik ForwardAuth and populates Fiber context locals.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		operatorID := c.Get("X-User-Id")
		if operatorID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals("operatorId", operatorID)
		c.Locals("email", c.Get("X-User-Email"))
		c.Locals("name", c.Get("X-User-Name"))

		return c.Next()
	}
}
