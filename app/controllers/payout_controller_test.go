package controllers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/payout"
)

type fakePayouts struct {
	sellerID string
	err      error
}

func (f *fakePayouts) EnsureRecipient(_ context.Context, sellerID string) (*payout.RecipientResult, error) {
	f.sellerID = sellerID
	if f.err != nil {
		return nil, f.err
	}
	return &payout.RecipientResult{
		RecipientCode: "RCP_1",
		Message:       "Recipient created",
		Breakdown:     payout.Breakdown{OrderCount: 2},
		SellerInfo:    payout.SellerInfo{Name: "Sam", AccountNumber: "****6789"},
	}, nil
}

func (f *fakePayouts) InitiateTransfer(_ context.Context, sellerID string) (*payout.TransferResult, error) {
	f.sellerID = sellerID
	if f.err != nil {
		return nil, f.err
	}
	return &payout.TransferResult{Reference: "payout-1", Amount: 24000, OrderIDs: []string{"o1", "o2"}}, nil
}

func payoutApp(s PayoutService) *fiber.App {
	pc := NewPayoutController(s)
	app := fiber.New()
	app.Post("/payouts/recipient", pc.HandleCreateRecipient)
	app.Post("/payouts/transfer", pc.HandleInitiateTransfer)
	return app
}

func TestHandleCreateRecipient(t *testing.T) {
	svc := &fakePayouts{}

	status, body := post(t, payoutApp(svc), "/payouts/recipient", `{"sellerId":"s1"}`)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "s1", svc.sellerID)
	assert.Equal(t, "RCP_1", body["recipient_code"])
	info := body["seller_info"].(map[string]any)
	assert.Equal(t, "****6789", info["account_number"])
	breakdown := body["payment_breakdown"].(map[string]any)
	assert.EqualValues(t, 2, breakdown["order_count"])
}

func TestHandleCreateRecipient_Errors(t *testing.T) {
	status, body := post(t, payoutApp(&fakePayouts{}), "/payouts/recipient", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeMissingRequiredFields, body["error"])

	status, body = post(t, payoutApp(&fakePayouts{err: apperr.ErrNoCompletedOrders}), "/payouts/recipient", `{"seller_id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeNoCompletedOrders, body["error"])

	status, body = post(t, payoutApp(&fakePayouts{err: apperr.ErrBankingNotFound}), "/payouts/recipient", `{"seller_id":"s1"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.CodeBankingNotFound, body["error"])
}

func TestHandleInitiateTransfer(t *testing.T) {
	status, body := post(t, payoutApp(&fakePayouts{}), "/payouts/transfer", `{"seller_id":"s1"}`)

	require.Equal(t, http.StatusOK, status)
	transfer := body["transfer"].(map[string]any)
	assert.Equal(t, "payout-1", transfer["reference"])
	assert.EqualValues(t, 24000, transfer["amount"])
	assert.Len(t, transfer["order_ids"], 2)
}
