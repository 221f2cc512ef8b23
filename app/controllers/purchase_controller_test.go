package controllers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/purchase"
)

type fakeProcessor struct {
	got purchase.Request
	res *purchase.Result
	err error
}

func (f *fakeProcessor) Process(_ context.Context, req purchase.Request) (*purchase.Result, error) {
	f.got = req
	return f.res, f.err
}

func purchaseApp(p PurchaseProcessor) *fiber.App {
	app := fiber.New()
	app.Post("/purchases", NewPurchaseController(p).HandleCreatePurchase)
	return app
}

const purchaseBody = `{"book_id":"b1","buyer_id":"u1","seller_id":"s1","amount":150,"payment_reference":"ref-1"}`

func paidResult(replayed bool) *purchase.Result {
	return &purchase.Result{
		Order: &models.Order{
			ID:               "ord-1",
			BookID:           "b1",
			Amount:           15000,
			Status:           models.OrderStatusPendingCommit,
			PaymentReference: "ref-1",
			CommitDeadline:   time.Date(2026, 1, 3, 10, 0, 0, 0, time.UTC),
			Items:            []models.OrderItem{{BookID: "b1", Title: "Calculus", Author: "Stewart"}},
		},
		Seller:   &models.Profile{ID: "s1", Name: "Sam"},
		Buyer:    &models.Profile{ID: "u1", Email: "u1@example.com"},
		Replayed: replayed,
	}
}

func TestHandleCreatePurchase_OK(t *testing.T) {
	p := &fakeProcessor{res: paidResult(false)}

	status, body := post(t, purchaseApp(p), "/purchases", purchaseBody)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "message")
	order := body["order"].(map[string]any)
	assert.Equal(t, "ord-1", order["id"])
	assert.Equal(t, "Calculus", order["book_title"])
	assert.Equal(t, "Sam", order["seller_name"])
	assert.Equal(t, "u1@example.com", order["buyer_name"])
	assert.Equal(t, "pending_commit", order["status"])
	assert.Equal(t, "ref-1", p.got.PaymentReference)
}

func TestHandleCreatePurchase_Replay(t *testing.T) {
	status, body := post(t, purchaseApp(&fakeProcessor{res: paidResult(true)}), "/purchases", purchaseBody)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Order already exists for this payment reference", body["message"])
}

func TestHandleCreatePurchase_CountsOutcomes(t *testing.T) {
	outcomes := newFakeCounter("purchases")
	p := &fakeProcessor{res: paidResult(false)}
	app := fiber.New()
	app.Post("/purchases", NewPurchaseController(p).WithOutcomeCounter(outcomes).HandleCreatePurchase)

	post(t, app, "/purchases", purchaseBody)
	p.res = paidResult(true)
	post(t, app, "/purchases", purchaseBody)
	post(t, app, "/purchases", `{}`)

	assert.Equal(t, map[string]int64{
		"created":                        1,
		"replayed":                       1,
		apperr.CodeMissingRequiredFields: 1,
	}, outcomes.counts)
}

func TestHandleCreatePurchase_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"malformed json", `{"book_id":`, nil, http.StatusBadRequest, apperr.CodeInvalidJSON},
		{"missing fields", `{"book_id":"b1"}`, nil, http.StatusBadRequest, apperr.CodeMissingRequiredFields},
		{"book sold", purchaseBody, apperr.ErrBookNotAvailable, http.StatusNotFound, apperr.CodeBookNotAvailable},
		{"lost race", purchaseBody, apperr.ErrBookUpdateFailed, http.StatusConflict, apperr.CodeBookUpdateFailed},
		{"timeout", purchaseBody, context.DeadlineExceeded, http.StatusGatewayTimeout, apperr.CodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, purchaseApp(&fakeProcessor{err: tt.err}), "/purchases", tt.body)

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantCode, body["error"])
		})
	}
}

func TestHandleCreatePurchase_MissingFieldsAreListed(t *testing.T) {
	_, body := post(t, purchaseApp(&fakeProcessor{}), "/purchases", `{"book_id":"b1","amount":10}`)

	details := body["details"].(map[string]any)
	assert.Contains(t, details["missing_fields"], "payment_reference")
}
