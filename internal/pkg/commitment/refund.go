package commitment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/paystack"
)

// ErrRetryRefund marks a refund failure worth retrying later.
var ErrRetryRefund = errors.New("refund failed, retry later")

// ProcessRefund refunds a declined or expired order at the payment provider
// and closes it as refunded. Provider outages return ErrRetryRefund; other
// provider failures are handed to operations.
func (s *Service) ProcessRefund(ctx context.Context, orderID string) error {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case models.OrderStatusRefunded:
		return nil
	case models.OrderStatusDeclined, models.OrderStatusExpired:
	default:
		return fmt.Errorf("order %s is %s, not refundable", order.ID, order.Status)
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		if err := s.refundAtProvider(ctx, order); err != nil {
			return err
		}
	}
	return s.CompleteRefund(ctx, order.ID)
}

func (s *Service) refundAtProvider(ctx context.Context, order *models.Order) error {
	if s.payments == nil {
		return s.manualRefund(ctx, order, "no payment provider configured")
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ref := order.ProviderReference()
	res, err := s.payments.Refund(cctx, ref, order.Amount)
	if err == nil {
		log.Infof("[Commit] Refund for order %s (ref %s) accepted: %s", order.ID, ref, res.Status)
		return nil
	}

	var apiErr *paystack.APIError
	switch {
	case errors.Is(err, paystack.ErrNotConfigured):
		return s.manualRefund(ctx, order, err.Error())
	case errors.As(err, &apiErr) && !apiErr.Retryable():
		return s.manualRefund(ctx, order, err.Error())
	default:
		return fmt.Errorf("%w: %v", ErrRetryRefund, err)
	}
}

// manualRefund pages operations and stops retries by returning an error the
// job runner treats as final.
func (s *Service) manualRefund(ctx context.Context, order *models.Order, reason string) error {
	s.notifier.Escalate(context.WithoutCancel(ctx), notify.Escalation{
		Kind:        "manual_refund",
		ReferenceID: order.ID,
		OrderID:     order.ID,
		SellerID:    order.SellerID,
		Recipient:   order.BuyerEmail,
		Reason:      reason,
	})
	return fmt.Errorf("refund for order %s needs manual processing: %s", order.ID, reason)
}

// CompleteRefund records a refund that went through: payment_status
// paid -> refunded and status declined/expired -> refunded.
func (s *Service) CompleteRefund(ctx context.Context, orderID string) error {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == models.OrderStatusRefunded {
		return nil
	}
	if _, err := s.repos.Order.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPaid, models.PaymentStatusRefunded); err != nil {
		return err
	}
	ok, err := s.repos.Order.TransitionStatus(ctx, order.ID, order.Status, models.OrderStatusRefunded, nil)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	log.Infof("[Commit] Order %s refunded", order.ID)

	bg := context.WithoutCancel(ctx)
	if s.notifier != nil {
		_ = s.notifier.Notify(bg, order.BuyerID, notify.InApp{
			Type:    models.NotificationRefund,
			Title:   "Refund processed",
			Message: "Your payment for " + order.PrimaryItem().Title + " has been refunded.",
			OrderID: order.ID,
		})
	}
	s.mirror(bg, order.ID, models.CommitmentStatusRefunded)
	return nil
}
