package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rebooked/marketplace/internal/pkg/middleware"
)

type AdminRouter struct {
	opts Options
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	if h.opts.AdminQueue == nil {
		return
	}
	adminGroup := app.Group("/admin", middleware.RequireAdmin(h.opts.AdminUsers))

	// Mail queue
	adminGroup.Get("/mail-queue", h.opts.AdminQueue.HandleListMailQueue)
	adminGroup.Post("/mail-queue/:id/retry", h.opts.AdminQueue.HandleRetryMail)

	// Job queue + escalation feed
	adminGroup.Get("/jobs/stats", h.opts.AdminQueue.HandleJobStats)
	adminGroup.Get("/escalations", h.opts.AdminQueue.HandleEscalations)
	adminGroup.Get("/outcomes", h.opts.AdminQueue.HandleOutcomes)
}

func NewAdminRouter(opts Options) *AdminRouter {
	return &AdminRouter{opts: opts}
}
