package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// ServiceTokenHeader authenticates machine callers such as the courier.
const ServiceTokenHeader = "X-Service-Token"

// RequireServiceToken accepts requests whose X-Service-Token (or bearer
// token) matches token. An empty token rejects everything.
func RequireServiceToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := extractToken(c)
		if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			if token == "" {
				log.Warnf("[Auth] %s %s rejected: no service token configured", c.Method(), c.Path())
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "UNAUTHORIZED",
			})
		}
		return c.Next()
	}
}

func extractToken(c *fiber.Ctx) string {
	if v := strings.TrimSpace(c.Get(ServiceTokenHeader)); v != "" {
		return v
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
