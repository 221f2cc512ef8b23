package controllers

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/commitment"
)

type fakeCommitments struct {
	orderID, sellerID, reason string
	event                     commitment.DeliveryEvent
	err                       error
}

func (f *fakeCommitments) Commit(_ context.Context, orderID, sellerID string) (*commitment.CommitResult, error) {
	f.orderID, f.sellerID = orderID, sellerID
	if f.err != nil {
		return nil, f.err
	}
	return &commitment.CommitResult{
		Order:      &models.Order{ID: orderID, Status: models.OrderStatusCommitted},
		Path:       commitment.PathFallback,
		EmailsSent: true,
	}, nil
}

func (f *fakeCommitments) Decline(_ context.Context, orderID, sellerID, reason string) (*commitment.DeclineResult, error) {
	f.orderID, f.sellerID, f.reason = orderID, sellerID, reason
	if f.err != nil {
		return nil, f.err
	}
	return &commitment.DeclineResult{
		Order:        &models.Order{ID: orderID, Status: models.OrderStatusDeclined},
		RefundQueued: true,
		BookRelisted: true,
	}, nil
}

func (f *fakeCommitments) RecordDelivery(_ context.Context, orderID string, ev commitment.DeliveryEvent) (*models.Order, error) {
	f.orderID, f.event = orderID, ev
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: orderID, Status: models.OrderStatusDelivered, DeliveryStatus: ev.Status}, nil
}

func orderApp(s CommitmentService) *fiber.App {
	oc := NewOrderController(s)
	app := fiber.New()
	app.Post("/orders/:id/commit", oc.HandleCommit)
	app.Post("/orders/:id/decline", oc.HandleDecline)
	app.Post("/orders/:id/delivery", oc.HandleDelivery)
	return app
}

func TestHandleCommit(t *testing.T) {
	svc := &fakeCommitments{}

	status, body := post(t, orderApp(svc), "/orders/ord-7/commit", `{"seller_id":" s1 "}`)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ord-7", svc.orderID)
	assert.Equal(t, "s1", svc.sellerID)
	assert.Equal(t, "committed", body["status"])
	assert.Equal(t, "fallback", body["path"])
	assert.Equal(t, true, body["emails_sent"])
}

func TestHandleCommit_AcceptsCamelCaseSeller(t *testing.T) {
	svc := &fakeCommitments{}

	status, _ := post(t, orderApp(svc), "/orders/ord-7/commit", `{"sellerId":"s2"}`)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "s2", svc.sellerID)
}

func TestHandleCommit_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"no seller", `{}`, nil, http.StatusBadRequest, apperr.CodeMissingRequiredFields},
		{"bad json", `nope`, nil, http.StatusBadRequest, apperr.CodeInvalidJSON},
		{"other seller", `{"seller_id":"s9"}`, apperr.ErrNotOrderSeller, http.StatusForbidden, apperr.CodeNotOrderSeller},
		{"deadline", `{"seller_id":"s1"}`, apperr.ErrDeadlinePassed, http.StatusConflict, apperr.CodeCommitDeadlinePassed},
		{"unknown order", `{"seller_id":"s1"}`, apperr.ErrOrderNotFound, http.StatusNotFound, apperr.CodeOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, orderApp(&fakeCommitments{err: tt.err}), "/orders/ord-1/commit", tt.body)

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body["error"])
		})
	}
}

func TestHandleDecline(t *testing.T) {
	svc := &fakeCommitments{}

	status, body := post(t, orderApp(svc), "/orders/ord-2/decline", `{"seller_id":"s1","reason":" damaged "}`)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "damaged", svc.reason)
	assert.Equal(t, "declined", body["status"])
	assert.Equal(t, true, body["refund_queued"])
	assert.Equal(t, true, body["book_relisted"])
}

func TestHandleDecline_FailureReportsManualRecord(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	failed := apperr.New(apperr.CodeDeclineFailed, http.StatusInternalServerError, "decline could not be completed").
		WithDetail("order_id", "ord-2").
		WithDetail("emails_sent", true)
	status, body := post(t, orderApp(&fakeCommitments{err: failed}), "/orders/ord-2/decline", `{"seller_id":"s1"}`)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, apperr.CodeDeclineFailed, body["error"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, details["emails_sent"])
	assert.Contains(t, logs.String(), "[Decline]")
	assert.NotContains(t, logs.String(), "[Commit]")
}

func TestHandleDelivery(t *testing.T) {
	svc := &fakeCommitments{}

	status, body := post(t, orderApp(svc), "/orders/ord-3/delivery", `{"status":"delivered","tracking_number":"TRK1"}`)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "TRK1", svc.event.TrackingNumber)
	assert.Equal(t, "delivered", body["delivery_status"])

	status, body = post(t, orderApp(svc), "/orders/ord-3/delivery", `{"tracking_number":"TRK1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeMissingRequiredFields, body["error"])
}
