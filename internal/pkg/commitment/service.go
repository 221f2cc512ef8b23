// Package commitment moves orders out of pending_commit: seller commit and
// decline, deadline expiry, courier progress and refund completion. Every
// status change is a conditional write on the order's current status.
package commitment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/courier"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/paystack"
	"github.com/rebooked/marketplace/internal/pkg/policy"
)

type Notifier interface {
	Notify(ctx context.Context, userID string, in notify.InApp) error
	SendCommitEmails(ctx context.Context, oc notify.OrderContext) notify.Report
	SendDeclineEmails(ctx context.Context, oc notify.OrderContext) notify.Report
	SendExpiryEmails(ctx context.Context, oc notify.OrderContext) notify.Report
	RetryUnrecorded(ctx context.Context, oc notify.OrderContext, prev notify.Report) notify.Report
	Verify(ctx context.Context, rep notify.Report) bool
	Escalate(ctx context.Context, e notify.Escalation) bool
}

type PickupScheduler interface {
	SchedulePickup(ctx context.Context, in courier.PickupRequest) (*courier.Pickup, error)
}

// RefundQueue schedules a refund to run asynchronously with retries.
type RefundQueue interface {
	EnqueueRefund(ctx context.Context, orderID, reason string) error
}

type RefundProvider interface {
	Refund(ctx context.Context, reference string, amount int64) (*paystack.RefundResult, error)
}

type Decrypter interface {
	Decrypt(value string) (string, error)
}

type Deps struct {
	Repos    *repository.Repositories
	Notifier Notifier
	Courier  PickupScheduler
	Refunds  RefundQueue
	Payments RefundProvider
	Cipher   Decrypter
	// Primary is the remote commit function. Nil commits in process.
	Primary Committer
	Policy  policy.Policy
	// CallTimeout bounds each external call.
	CallTimeout time.Duration
}

type Service struct {
	repos    *repository.Repositories
	notifier Notifier
	courier  PickupScheduler
	refunds  RefundQueue
	payments RefundProvider
	cipher   Decrypter
	primary  Committer
	policy   policy.Policy
	timeout  time.Duration
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repos:    d.Repos,
		notifier: d.Notifier,
		courier:  d.Courier,
		refunds:  d.Refunds,
		payments: d.Payments,
		cipher:   d.Cipher,
		primary:  d.Primary,
		policy:   d.Policy,
		timeout:  d.CallTimeout,
		now:      time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = 20 * time.Second
	}
	if s.primary == nil {
		s.primary = localCommitter{s}
	}
	return s
}

// Path names which commit path mutated the order.
const (
	PathPrimary  = "primary"
	PathFallback = "fallback"
)

type CommitResult struct {
	Order      *models.Order  `json:"order"`
	Path       string         `json:"path"`
	EmailsSent bool           `json:"emails_sent"`
	Emails     *notify.Report `json:"emails,omitempty"`
	PrimaryErr string         `json:"primary_error,omitempty"`
}

// Commit accepts a pending sale on behalf of its seller. Validation errors
// return before anything is mutated. After that the primary path runs and
// the fallback takes over if it throws or reports unsent emails. When both
// fail an urgent manual-processing record is queued and the error carries
// emails_sent telling whether that record was stored.
func (s *Service) Commit(ctx context.Context, orderID, sellerID string) (*CommitResult, error) {
	order, err := s.authorize(ctx, orderID, sellerID)
	if err != nil {
		return nil, err
	}

	res := &CommitResult{Path: PathPrimary}
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	out, perr := s.runPrimary(pctx, Call{OrderID: order.ID, SellerID: sellerID})
	cancel()

	if perr == nil && out.EmailSent {
		res.EmailsSent = true
		res.Emails = out.Report
	} else {
		if perr != nil {
			res.PrimaryErr = perr.Error()
			log.Warnf("[Commit] Primary commit for %s failed, using fallback: %v", order.ID, perr)
		} else {
			log.Warnf("[Commit] Primary commit for %s did not send emails, using fallback", order.ID)
		}
		res.Path = PathFallback
		var prev *notify.Report
		if perr == nil {
			prev = out.Report
		}
		rep, ferr := s.fallbackCommit(ctx, order.ID, prev)
		if errors.Is(ferr, errNotPending) {
			// Declined or expired while we were committing.
			return nil, apperr.ErrInvalidOrderState.Wrap(ferr)
		}
		if ferr != nil {
			return nil, s.commitFailed(ctx, order, perr, ferr)
		}
		res.EmailsSent = rep.Recorded()
		res.Emails = rep
	}

	committed, err := s.repos.Order.GetByID(context.WithoutCancel(ctx), order.ID)
	if err != nil {
		committed = order
	}
	res.Order = committed
	s.afterCommit(ctx, committed, res)
	return res, nil
}

func (s *Service) runPrimary(ctx context.Context, call Call) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("primary commit panicked: %v", r)
		}
	}()
	out, err = s.primary.Commit(ctx, call)
	if err == nil && out == nil {
		err = errors.New("primary commit returned no outcome")
	}
	return out, err
}

// fallbackCommit re-reads the order context, commits directly if the primary
// path did not get that far, and sends the emails itself. When the primary
// path left a report, only its unrecorded recipients are emailed again.
func (s *Service) fallbackCommit(ctx context.Context, orderID string, prev *notify.Report) (rep *notify.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fallback commit panicked: %v", r)
		}
	}()

	oc, err := s.loadContext(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if oc.Order.Status != models.OrderStatusCommitted {
		if err := s.applyCommit(ctx, oc); err != nil {
			return nil, err
		}
	}
	if prev != nil && !prev.Panicked {
		out := s.notifier.RetryUnrecorded(ctx, *oc, *prev)
		return &out, nil
	}
	out := s.notifier.SendCommitEmails(ctx, *oc)
	return &out, nil
}

// commitFailed is the last line: page operations and report failure.
func (s *Service) commitFailed(ctx context.Context, order *models.Order, perr, ferr error) error {
	reason := fmt.Sprintf("fallback: %v", ferr)
	if perr != nil {
		reason = fmt.Sprintf("primary: %v; %s", perr, reason)
	}
	queued := s.notifier.Escalate(context.WithoutCancel(ctx), notify.Escalation{
		Kind:        "commit_failed",
		ReferenceID: order.ID,
		OrderID:     order.ID,
		SellerID:    order.SellerID,
		Reason:      reason,
		At:          s.now(),
	})
	log.Errorw("[Commit] Commit failed on every path",
		"order_id", order.ID, "seller_id", order.SellerID, "manual_record", queued, "error", reason)
	return apperr.New(apperr.CodeCommitFailed, http.StatusInternalServerError, "Commit could not be completed; operations has been notified").
		WithDetail("order_id", order.ID).
		WithDetail("emails_sent", queued).
		Wrap(ferr)
}

func (s *Service) afterCommit(ctx context.Context, order *models.Order, res *CommitResult) {
	bg := context.WithoutCancel(ctx)
	title := order.PrimaryItem().Title
	s.notifyParties(bg, order, models.NotificationCommit,
		notify.InApp{Title: "Order confirmed", Message: "The seller confirmed your order for " + title + ". A courier will collect it shortly."},
		notify.InApp{Title: "Sale committed", Message: "You committed to selling " + title + ". Please have it ready for collection."},
	)

	// The local pipeline and the fallback already queued a verification
	// record with their email batch.
	if res.Emails == nil {
		s.notifier.Verify(bg, notify.Report{
			Kind:        notify.KindCommit,
			ReferenceID: order.ID,
			Results:     []notify.Result{{Recipient: "commit_function", Outcome: notify.OutcomeSent}},
		})
	}

	s.mirror(bg, order.ID, models.CommitmentStatusCommitted)
	s.activity(bg, order.SellerID, "commit", order.ID, datatypes.JSONMap{"path": res.Path, "emails_sent": res.EmailsSent})
}

// applyCommit is the conditional pending_commit -> committed write followed
// by courier pickup scheduling. Losing the write to a concurrent commit is
// not an error.
func (s *Service) applyCommit(ctx context.Context, oc *notify.OrderContext) error {
	now := s.now()
	ok, err := s.repos.Order.TransitionStatus(ctx, oc.Order.ID, models.OrderStatusPendingCommit, models.OrderStatusCommitted,
		repository.OrderUpdates{"committed_at": now})
	if err != nil {
		return err
	}
	if !ok {
		current, err := s.repos.Order.GetByID(ctx, oc.Order.ID)
		if err != nil {
			return err
		}
		if current.Status != models.OrderStatusCommitted {
			return fmt.Errorf("%w: status %s", errNotPending, current.Status)
		}
		oc.Order = current
		return nil
	}
	oc.Order.Status = models.OrderStatusCommitted
	oc.Order.CommittedAt = &now
	log.Infof("[Commit] Order %s committed by seller %s", oc.Order.ID, oc.Order.SellerID)

	s.schedulePickup(ctx, oc)
	return nil
}

func (s *Service) schedulePickup(ctx context.Context, oc *notify.OrderContext) {
	if s.courier == nil {
		return
	}
	order := oc.Order
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pickup, err := s.courier.SchedulePickup(cctx, courier.PickupRequest{
		OrderID:         order.ID,
		Parcel:          order.PrimaryItem().Title,
		DeliveryAddress: s.shippingAddress(order),
	})
	if errors.Is(err, courier.ErrNotConfigured) {
		log.Infof("[Commit] Courier not configured, pickup for %s left to operations", order.ID)
		return
	}
	if err != nil {
		log.Warnf("[Commit] Pickup scheduling for %s failed: %v", order.ID, err)
		s.notifier.Escalate(context.WithoutCancel(ctx), notify.Escalation{
			Kind:        "pickup_scheduling",
			ReferenceID: order.ID,
			OrderID:     order.ID,
			SellerID:    order.SellerID,
			Reason:      err.Error(),
		})
		return
	}

	data := order.DeliveryData.Data()
	data.Courier = pickup.Courier
	data.ServiceLevel = pickup.ServiceLevel
	data.TrackingNumber = pickup.TrackingNumber
	data.DeliveryFee = pickup.DeliveryFee
	if !pickup.PickupDate.IsZero() {
		pd := pickup.PickupDate
		data.PickupDate = &pd
	}
	if err := s.repos.Order.UpdateDelivery(context.WithoutCancel(ctx), order.ID, models.DeliveryStatusScheduled, data); err != nil {
		log.Errorf("[Commit] Storing pickup %s for order %s failed: %v", pickup.TrackingNumber, order.ID, err)
		return
	}
	order.DeliveryStatus = models.DeliveryStatusScheduled
	order.DeliveryData = datatypes.NewJSONType(data)
}

func (s *Service) shippingAddress(order *models.Order) map[string]any {
	if order.ShippingAddressEncrypted == "" || s.cipher == nil {
		return nil
	}
	plain, err := s.cipher.Decrypt(order.ShippingAddressEncrypted)
	if err != nil {
		log.Warnf("[Commit] Shipping address for %s could not be decrypted: %v", order.ID, err)
		return nil
	}
	var addr map[string]any
	if err := json.Unmarshal([]byte(plain), &addr); err != nil {
		return nil
	}
	return addr
}

// authorize loads the order and checks the seller may act on it now.
func (s *Service) authorize(ctx context.Context, orderID, sellerID string) (*models.Order, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrOrderNotFound.WithDetail("order_id", orderID)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, http.StatusInternalServerError, "Internal server error").Wrap(err)
	}
	if order.SellerID != sellerID {
		return nil, apperr.ErrNotOrderSeller
	}
	if order.Status != models.OrderStatusPendingCommit {
		return nil, apperr.ErrInvalidOrderState.WithDetail("status", string(order.Status))
	}
	if !order.CommitWindowOpen(s.now()) {
		return nil, apperr.ErrDeadlinePassed.WithDetail("commit_deadline", order.CommitDeadline)
	}
	return order, nil
}

// loadContext re-reads everything the order emails need. Missing book or
// profiles are tolerated.
func (s *Service) loadContext(ctx context.Context, orderID string) (*notify.OrderContext, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	oc := &notify.OrderContext{Order: order}
	if b, err := s.repos.Book.GetByID(ctx, order.BookID); err == nil {
		oc.Book = b
	}
	if p, err := s.repos.Profile.GetByID(ctx, order.BuyerID); err == nil {
		oc.Buyer = p
	}
	if p, err := s.repos.Profile.GetByID(ctx, order.SellerID); err == nil {
		oc.Seller = p
	}
	return oc, nil
}

func (s *Service) notifyParties(ctx context.Context, order *models.Order, kind string, buyer, seller notify.InApp) {
	if s.notifier == nil {
		return
	}
	buyer.Type, buyer.OrderID = kind, order.ID
	seller.Type, seller.OrderID = kind, order.ID
	_ = s.notifier.Notify(ctx, order.BuyerID, buyer)
	_ = s.notifier.Notify(ctx, order.SellerID, seller)
}

// mirror keeps the legacy commitment table in step when it exists.
func (s *Service) mirror(ctx context.Context, orderID, status string) {
	if s.repos.Commitment == nil {
		return
	}
	if err := s.repos.Commitment.UpdateStatus(ctx, orderID, status); err != nil {
		log.Warnf("[Commit] Legacy commitment %s -> %s failed: %v", orderID, status, err)
	}
}

func (s *Service) activity(ctx context.Context, userID, action, orderID string, meta datatypes.JSONMap) {
	if err := s.repos.Activity.Log(ctx, &models.ActivityLog{
		UserID:     userID,
		Action:     action,
		EntityType: "order",
		EntityID:   orderID,
		Metadata:   meta,
	}); err != nil {
		log.Warnf("[Commit] Activity log %s for %s failed: %v", action, orderID, err)
	}
}
