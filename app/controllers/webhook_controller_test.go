package controllers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/webhook"
)

type fakeIngestor struct {
	body      string
	signature string
	err       error
}

func (f *fakeIngestor) Handle(_ context.Context, body []byte, signature string) (*webhook.Ack, error) {
	f.body, f.signature = string(body), signature
	if f.err != nil {
		return nil, f.err
	}
	return &webhook.Ack{Message: "Order created", Event: "charge.success", Reference: "ref-1"}, nil
}

func webhookApp(h WebhookHandler) *fiber.App {
	app := fiber.New()
	app.Post("/webhooks/paystack", NewWebhookController(h).HandlePaystackWebhook)
	return app
}

func TestHandlePaystackWebhook_PassesRawBodyAndSignature(t *testing.T) {
	ing := &fakeIngestor{}
	raw := `{"event":"charge.success",  "data":{"reference":"ref-1"}}`

	status, body := doJSON(t, webhookApp(ing), http.MethodPost, "/webhooks/paystack", raw,
		map[string]string{PaystackSignatureHeader: "abc123"})

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, raw, ing.body)
	assert.Equal(t, "abc123", ing.signature)
	assert.Equal(t, "charge.success", body["event"])
	assert.Equal(t, "ref-1", body["reference"])
}

func TestHandlePaystackWebhook_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"bad signature", apperr.ErrInvalidSignature, http.StatusUnauthorized},
		{"unhandled event", apperr.ErrUnhandledEvent, http.StatusBadRequest},
		{"processing failure retried by provider", apperr.New(apperr.CodeWebhookProcessingError, http.StatusInternalServerError, "db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, webhookApp(&fakeIngestor{err: tt.err}), "/webhooks/paystack", `{}`)

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, apperr.Code(tt.err), body["error"])
		})
	}
}

func TestHandlePaystackWebhook_CountsOutcomes(t *testing.T) {
	outcomes := newFakeCounter("webhooks")
	ing := &fakeIngestor{}
	app := fiber.New()
	app.Post("/webhooks/paystack", NewWebhookController(ing).WithOutcomeCounter(outcomes).HandlePaystackWebhook)

	post(t, app, "/webhooks/paystack", `{}`)
	ing.err = apperr.ErrInvalidSignature
	post(t, app, "/webhooks/paystack", `{}`)

	assert.Equal(t, map[string]int64{"processed": 1, apperr.CodeInvalidWebhookSignature: 1}, outcomes.counts)
}
