package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ajnasrah/viralflow/pkg/response"
)

// CronAuth guards the time-trigger endpoints with a static bearer secret.
// External cron services send "Authorization: Bearer <secret>".
func CronAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return response.Unauthorized(c, "Cron trigger not configured")
		}

		authHeader := c.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Missing cron secret")
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(secret)) != 1 {
			return response.Unauthorized(c, "Invalid cron secret")
		}
		return c.Next()
	}
}
