package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rebooked/marketplace/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Options carries the wired controllers and the route guards.
type Options struct {
	Purchase   *controllers.PurchaseController
	Webhook    *controllers.WebhookController
	Order      *controllers.OrderController
	Payout     *controllers.PayoutController
	AdminQueue *controllers.AdminQueueController

	// LimiterStorage backs the API rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	RateLimit      int
	AdminUsers     map[string]string
	ServiceToken   string
}

func InstallRouter(app *fiber.App, opts Options) {
	setup(app, NewApiRouter(opts), NewAdminRouter(opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
