package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/rebooked/marketplace/internal/pkg/middleware"
)

type ApiRouter struct {
	opts Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Provider and courier callbacks are not rate limited.
	v1.Post("/webhooks/paystack", h.opts.Webhook.HandlePaystackWebhook)
	v1.Post("/orders/:id/delivery", middleware.RequireServiceToken(h.opts.ServiceToken), h.opts.Order.HandleDelivery)

	limit := limiter.New(limiter.Config{
		Max:        h.opts.RateLimit,
		Expiration: time.Minute,
		Storage:    h.opts.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "RATE_LIMITED",
			})
		},
	})
	v1.Post("/purchases", limit, h.opts.Purchase.HandleCreatePurchase)
	v1.Post("/orders/:id/commit", limit, h.opts.Order.HandleCommit)
	v1.Post("/orders/:id/decline", limit, h.opts.Order.HandleDecline)
	v1.Post("/payouts/recipient", limit, h.opts.Payout.HandleCreateRecipient)
	v1.Post("/payouts/transfer", limit, h.opts.Payout.HandleInitiateTransfer)
}

func NewApiRouter(opts Options) *ApiRouter {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 60
	}
	return &ApiRouter{opts: opts}
}
