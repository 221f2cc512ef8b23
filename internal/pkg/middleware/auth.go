package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/rebooked/marketplace/internal/pkg/env"
)

// AdminUsers returns the basic-auth credentials for operator routes. An
// unset password disables the admin surface.
func AdminUsers() map[string]string {
	pass := env.GetEnv("ADMIN_PASSWORD", "")
	if pass == "" {
		return nil
	}
	return map[string]string{env.GetEnv("ADMIN_USER", "admin"): pass}
}

// RequireAdmin guards operator routes with HTTP basic auth and answers JSON.
func RequireAdmin(users map[string]string) fiber.Handler {
	if len(users) == 0 {
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"error":   "ADMIN_DISABLED",
			})
		}
	}
	return basicauth.New(basicauth.Config{
		Users: users,
		Realm: "marketplace-admin",
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `basic realm="marketplace-admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "UNAUTHORIZED",
			})
		},
	})
}
