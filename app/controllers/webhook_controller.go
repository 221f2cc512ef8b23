package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/webhook"
)

// PaystackSignatureHeader carries the hex HMAC-SHA512 of the raw body.
const PaystackSignatureHeader = "X-Paystack-Signature"

type WebhookHandler interface {
	Handle(ctx context.Context, body []byte, signature string) (*webhook.Ack, error)
}

type WebhookController struct {
	ingestor WebhookHandler
	outcomes OutcomeCounter
	timeout  time.Duration
}

func NewWebhookController(h WebhookHandler) *WebhookController {
	return &WebhookController{ingestor: h, timeout: 25 * time.Second}
}

func (wc *WebhookController) WithOutcomeCounter(c OutcomeCounter) *WebhookController {
	wc.outcomes = c
	return wc
}

func (wc *WebhookController) count(c *fiber.Ctx, outcome string) {
	if wc.outcomes != nil {
		wc.outcomes.Add(c.UserContext(), outcome)
	}
}

// HandlePaystackWebhook verifies and applies one provider delivery. Non-2xx
// responses make the provider redeliver.
func (wc *WebhookController) HandlePaystackWebhook(c *fiber.Ctx) error {
	// The signature covers the exact bytes received.
	body := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := context.WithTimeout(c.UserContext(), wc.timeout)
	defer cancel()

	ack, err := wc.ingestor.Handle(ctx, body, c.Get(PaystackSignatureHeader))
	if err != nil {
		status := apperr.HTTPStatus(err)
		if status >= fiber.StatusInternalServerError {
			log.Errorf("[Webhook] Delivery failed, provider will retry: %v", err)
		}
		wc.count(c, apperr.Code(err))
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"error":   apperr.Code(err),
		})
	}

	outcome := ack.Outcome
	if outcome == "" {
		outcome = "processed"
	}
	wc.count(c, outcome)

	return sendOK(c, fiber.Map{
		"message":   ack.Message,
		"event":     ack.Event,
		"reference": ack.Reference,
	})
}
