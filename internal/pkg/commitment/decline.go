package commitment

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/notify"
)

type DeclineResult struct {
	Order         *models.Order  `json:"order"`
	EmailsSent    bool           `json:"emails_sent"`
	Emails        *notify.Report `json:"emails,omitempty"`
	RefundQueued  bool           `json:"refund_queued"`
	BookRelisted  bool           `json:"book_relisted"`
	ManualRecord  bool           `json:"manual_record,omitempty"`
	SideEffectErr string         `json:"side_effect_error,omitempty"`
}

// Decline rejects a pending sale. The buyer is refunded and the book goes
// back on sale.
func (s *Service) Decline(ctx context.Context, orderID, sellerID, reason string) (*DeclineResult, error) {
	order, err := s.authorize(ctx, orderID, sellerID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "Declined by seller"
	}

	now := s.now()
	ok, err := s.repos.Order.TransitionStatus(ctx, order.ID, models.OrderStatusPendingCommit, models.OrderStatusDeclined,
		repository.OrderUpdates{"declined_at": now, "decline_reason": reason})
	if err != nil {
		return nil, s.declineFailed(ctx, order, reason, err)
	}
	if !ok {
		return nil, apperr.ErrInvalidOrderState.WithDetail("order_id", order.ID)
	}
	order.Status = models.OrderStatusDeclined
	order.DeclinedAt = &now
	order.DeclineReason = reason
	log.Infof("[Decline] Order %s declined by seller %s: %s", order.ID, sellerID, reason)

	c := s.closeOrder(ctx, order, notify.KindDecline, reason)
	s.notifyParties(context.WithoutCancel(ctx), order, models.NotificationDecline,
		notify.InApp{Title: "Order cancelled", Message: "The seller could not fulfil your order for " + order.PrimaryItem().Title + ". You will be refunded."},
		notify.InApp{Title: "Sale declined", Message: "You declined the sale of " + order.PrimaryItem().Title + ". The listing is available again."},
	)
	s.activity(context.WithoutCancel(ctx), sellerID, "decline", order.ID, datatypes.JSONMap{"reason": reason})

	return &DeclineResult{
		Order:         order,
		EmailsSent:    c.emails != nil && c.emails.Recorded() || c.manual,
		Emails:        c.emails,
		RefundQueued:  c.refundQueued,
		BookRelisted:  c.relisted,
		ManualRecord:  c.manual,
		SideEffectErr: c.errText,
	}, nil
}

// declineFailed pages operations when the decline itself could not be
// recorded. The buyer is still owed a refund.
func (s *Service) declineFailed(ctx context.Context, order *models.Order, reason string, cause error) error {
	queued := s.notifier.Escalate(context.WithoutCancel(ctx), notify.Escalation{
		Kind:        "decline_failed",
		ReferenceID: order.ID,
		OrderID:     order.ID,
		SellerID:    order.SellerID,
		Reason:      fmt.Sprintf("%s: %v", reason, cause),
		At:          s.now(),
	})
	log.Errorw("[Decline] Decline could not be recorded",
		"order_id", order.ID, "seller_id", order.SellerID, "manual_record", queued, "error", cause)
	return apperr.New(apperr.CodeDeclineFailed, http.StatusInternalServerError, "Decline could not be completed; operations has been notified").
		WithDetail("order_id", order.ID).
		WithDetail("emails_sent", queued).
		Wrap(cause)
}

type closure struct {
	emails       *notify.Report
	refundQueued bool
	relisted     bool
	manual       bool
	errText      string
}

// closeOrder runs the side effects shared by decline and expiry: relist,
// refund, emails and the legacy mirror. A panic is escalated, never
// propagated, since the status change has already happened.
func (s *Service) closeOrder(ctx context.Context, order *models.Order, kind, reason string) (c closure) {
	bg := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			c.errText = fmt.Sprintf("panic: %v", r)
			log.Errorf("[Commit] %s side effects for %s panicked: %v", kind, order.ID, r)
			c.manual = s.notifier.Escalate(bg, notify.Escalation{
				Kind:        kind + "_failed",
				ReferenceID: order.ID,
				OrderID:     order.ID,
				SellerID:    order.SellerID,
				Reason:      c.errText,
			})
		}
	}()

	relisted, err := s.repos.Book.Relist(bg, order.BookID)
	if err != nil {
		log.Errorf("[Commit] Relisting book %s after %s of %s failed: %v", order.BookID, kind, order.ID, err)
	}
	c.relisted = relisted

	c.refundQueued = s.queueRefund(bg, order, reason)

	oc, err := s.loadContext(bg, order.ID)
	if err != nil {
		oc = &notify.OrderContext{Order: order}
	}
	oc.Reason = reason
	var rep notify.Report
	if kind == notify.KindExpired {
		rep = s.notifier.SendExpiryEmails(bg, *oc)
	} else {
		rep = s.notifier.SendDeclineEmails(bg, *oc)
	}
	c.emails = &rep

	status := models.CommitmentStatusDeclined
	if kind == notify.KindExpired {
		status = models.CommitmentStatusExpired
	}
	s.mirror(bg, order.ID, status)
	return c
}

func (s *Service) queueRefund(ctx context.Context, order *models.Order, reason string) bool {
	if s.refunds == nil {
		if err := s.ProcessRefund(ctx, order.ID); err != nil {
			log.Errorf("[Commit] Inline refund for %s failed: %v", order.ID, err)
			return false
		}
		return true
	}
	if err := s.refunds.EnqueueRefund(ctx, order.ID, reason); err != nil {
		log.Errorf("[Commit] Refund job for %s could not be queued: %v", order.ID, err)
		s.notifier.Escalate(ctx, notify.Escalation{
			Kind:        "refund_enqueue",
			ReferenceID: order.ID,
			OrderID:     order.ID,
			SellerID:    order.SellerID,
			Reason:      err.Error(),
		})
		return false
	}
	return true
}
