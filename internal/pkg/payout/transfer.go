package payout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/paystack"
)

type TransferResult struct {
	Reference     string    `json:"reference"`
	TransferCode  string    `json:"transfer_code"`
	RecipientCode string    `json:"recipient_code"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	OrderIDs      []string  `json:"order_ids"`
	Breakdown     Breakdown `json:"payment_breakdown"`
}

// InitiateTransfer pays out every delivered order not yet in a transfer.
// Orders are claimed with a conditional write on transfer_reference, so an
// order is never part of two transfers. Only a definite provider rejection
// gives the orders back. After a timeout, a transport error or a 5xx the
// transfer may exist at the provider, so it stays pending with its orders
// claimed until the provider's transfer event settles it.
func (s *Service) InitiateTransfer(ctx context.Context, sellerID string) (*TransferResult, error) {
	rcp, err := s.EnsureRecipient(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, "payout:transfer:"+sellerID, apperr.CodeTransferFailed)
	if err != nil {
		return nil, err
	}
	defer release()

	orders, err := s.repos.Order.ListDeliveredBySeller(ctx, sellerID)
	if err != nil {
		return nil, internal(err)
	}
	var ids []string
	for _, o := range orders {
		if o.TransferReference == nil && o.PaymentStatus == models.PaymentStatusPaid {
			ids = append(ids, o.ID)
		}
	}
	if len(ids) == 0 {
		return nil, noTransferable(sellerID)
	}

	ref := "payout_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := s.repos.Order.ClaimForTransfer(ctx, ids, ref); err != nil {
		return nil, internal(err)
	}
	claimed, err := s.repos.Order.ListByTransfer(ctx, ref)
	if err != nil {
		s.unclaim(ctx, ref)
		return nil, internal(err)
	}
	if len(claimed) == 0 {
		return nil, noTransferable(sellerID)
	}

	breakdown := ComputeBreakdown(claimed, s.policy)
	claimedIDs := make([]string, 0, len(claimed))
	for _, o := range claimed {
		claimedIDs = append(claimedIDs, o.ID)
	}
	tr := &models.Transfer{
		Reference:     ref,
		SellerID:      sellerID,
		RecipientCode: rcp.RecipientCode,
		Amount:        breakdown.SellerAmountMinor(),
		Status:        models.TransferStatusPending,
		OrderIDs:      datatypes.JSONSlice[string](claimedIDs),
	}
	if err := s.repos.Transfer.Create(ctx, tr); err != nil {
		s.unclaim(ctx, ref)
		return nil, internal(err)
	}

	res := &TransferResult{
		Reference:     ref,
		RecipientCode: rcp.RecipientCode,
		Status:        models.TransferStatusPending,
		Amount:        tr.Amount,
		OrderIDs:      claimedIDs,
		Breakdown:     breakdown,
	}

	if s.provider == nil || !s.provider.Configured() {
		if !s.devMode {
			s.failTransfer(ctx, ref, "payment provider is not configured")
			return nil, apperr.New(apperr.CodeTransferFailed, http.StatusInternalServerError, "Payment provider is not configured")
		}
		return s.settleDevTransfer(ctx, res)
	}

	out, err := s.provider.InitiateTransfer(ctx, paystack.TransferRequest{
		Amount:    tr.Amount,
		Recipient: rcp.RecipientCode,
		Reason:    fmt.Sprintf("Payout for %d order(s)", len(claimedIDs)),
		Reference: ref,
	})
	if err != nil {
		var apiErr *paystack.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			s.failTransfer(ctx, ref, err.Error())
			return nil, apperr.New(apperr.CodeTransferFailed, http.StatusBadRequest, "Transfer could not be initiated").Wrap(err)
		}
		s.holdTransfer(ctx, tr, err)
		return nil, apperr.New(apperr.CodeTransferFailed, http.StatusBadGateway, "Transfer outcome unknown, awaiting provider confirmation").
			WithDetail("reference", ref).
			WithDetail("status", models.TransferStatusPending).
			Wrap(err)
	}

	if err := s.repos.Transfer.SetTransferCode(context.WithoutCancel(ctx), ref, out.TransferCode); err != nil {
		log.Errorf("[Payout] Storing transfer code %s for %s failed: %v", out.TransferCode, ref, err)
	}
	res.TransferCode = out.TransferCode
	if out.Status != "" {
		res.Status = out.Status
	}
	log.Infof("[Payout] Transfer %s (%s) of %d initiated for seller %s", ref, out.TransferCode, tr.Amount, sellerID)
	return res, nil
}

// settleDevTransfer completes a transfer locally when running without a
// provider in development.
func (s *Service) settleDevTransfer(ctx context.Context, res *TransferResult) (*TransferResult, error) {
	res.TransferCode = "TRF_dev_" + res.Reference[len("payout_"):len("payout_")+12]
	if err := s.repos.Transfer.SetTransferCode(ctx, res.Reference, res.TransferCode); err != nil {
		return nil, internal(err)
	}
	if _, err := s.repos.Transfer.Settle(ctx, res.Reference, models.TransferStatusSuccess, "", s.now()); err != nil {
		return nil, internal(err)
	}
	if _, err := s.repos.Order.ReleaseTransfer(ctx, res.Reference); err != nil {
		return nil, internal(err)
	}
	res.Status = models.TransferStatusSuccess
	log.Warnf("[Payout] Provider not configured, transfer %s settled locally", res.Reference)
	return res, nil
}

// failTransfer is for transfers the provider never accepted.
func (s *Service) failTransfer(ctx context.Context, ref, reason string) {
	bg := context.WithoutCancel(ctx)
	failed, err := s.repos.Transfer.MarkFailed(bg, ref, reason)
	if err != nil {
		log.Errorf("[Payout] Marking transfer %s failed: %v", ref, err)
		return
	}
	if failed {
		s.unclaim(bg, ref)
	}
}

// holdTransfer keeps an unconfirmed transfer pending and tells ops.
func (s *Service) holdTransfer(ctx context.Context, tr *models.Transfer, cause error) {
	bg := context.WithoutCancel(ctx)
	if err := s.repos.Transfer.NoteFailure(bg, tr.Reference, cause.Error()); err != nil {
		log.Errorf("[Payout] Recording error on transfer %s: %v", tr.Reference, err)
	}
	log.Errorw("[Payout] Transfer outcome unknown, orders stay claimed",
		"reference", tr.Reference, "seller_id", tr.SellerID, "amount", tr.Amount, "error", cause)
	if s.escalator != nil {
		s.escalator.Escalate(bg, notify.Escalation{
			Kind:        "transfer_unconfirmed",
			ReferenceID: tr.Reference,
			SellerID:    tr.SellerID,
			Reason:      cause.Error(),
		})
	}
}

func (s *Service) unclaim(ctx context.Context, ref string) {
	if _, err := s.repos.Order.UnclaimTransfer(context.WithoutCancel(ctx), ref); err != nil {
		log.Errorf("[Payout] Releasing orders of transfer %s failed: %v", ref, err)
	}
}

func noTransferable(sellerID string) error {
	return apperr.New(apperr.CodeNoTransferableOrders, http.StatusBadRequest, "No delivered orders awaiting payout").
		WithDetail("seller_id", sellerID)
}
