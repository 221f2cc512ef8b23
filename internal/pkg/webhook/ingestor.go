// Package webhook ingests payment provider callbacks. Every delivery is
// audited before processing and state changes are guarded by a conditional
// claim on webhook_processed_at so redeliveries are safe.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/archive"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/paystack"
	"github.com/rebooked/marketplace/internal/pkg/purchase"
)

// PurchaseRunner creates an order from a confirmed payment.
type PurchaseRunner interface {
	Process(ctx context.Context, req purchase.Request) (*purchase.Result, error)
}

// Escalator raises an urgent manual-processing record.
type Escalator interface {
	Escalate(ctx context.Context, e notify.Escalation) bool
}

type Config struct {
	Secret string
	// AllowTestPayloads lets sandbox deliveries through without a valid
	// signature. Never set in production.
	AllowTestPayloads bool
}

type Ingestor struct {
	repos     *repository.Repositories
	purchases PurchaseRunner
	escalator Escalator
	archiver  archive.Archiver
	cfg       Config
	now       func() time.Time
}

func NewIngestor(repos *repository.Repositories, purchases PurchaseRunner, escalator Escalator, archiver archive.Archiver, cfg Config) *Ingestor {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &Ingestor{
		repos:     repos,
		purchases: purchases,
		escalator: escalator,
		archiver:  archiver,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Ack is the success body of a webhook response.
type Ack struct {
	Message   string `json:"message"`
	Event     string `json:"event"`
	Reference string `json:"reference"`
	Outcome   string `json:"-"`
}

// Handle verifies, audits and applies one delivery. Errors are
// *apperr.Error; a 5xx tells the provider to redeliver.
func (i *Ingestor) Handle(ctx context.Context, body []byte, signature string) (*Ack, error) {
	var env envelope
	parseErr := json.Unmarshal(body, &env)
	var data Data
	if parseErr == nil && env.hasData() {
		_ = json.Unmarshal(env.Data, &data)
	}

	ev := &models.WebhookEvent{
		Provider:   models.WebhookProviderPaystack,
		Event:      env.Event,
		Reference:  data.Reference,
		Status:     data.Status,
		RawPayload: string(body),
		ReceivedAt: i.now(),
	}
	if ev.Event == "" {
		ev.Event = "unknown"
	}

	ev.SignatureValid = paystack.VerifySignature(body, signature, i.cfg.Secret)
	if !ev.SignatureValid {
		if !(i.cfg.AllowTestPayloads && parseErr == nil && isTestPayload(data)) {
			i.reject(ctx, ev, "invalid signature")
			log.Warnf("[Webhook] Rejected %s with invalid signature (ref %q)", ev.Event, data.Reference)
			return nil, apperr.ErrInvalidSignature
		}
		log.Infof("[Webhook] Accepting unsigned test payload %s (ref %q)", ev.Event, data.Reference)
	}

	if parseErr != nil {
		i.reject(ctx, ev, parseErr.Error())
		return nil, apperr.New(apperr.CodeInvalidJSONPayload, http.StatusBadRequest, "Webhook payload is not valid JSON").Wrap(parseErr)
	}
	if env.Event == "" || !env.hasData() {
		i.reject(ctx, ev, "event or data missing")
		return nil, apperr.ErrMissingWebhookData
	}

	if err := i.repos.WebhookEvent.Record(ctx, ev); err != nil {
		log.Errorf("[Webhook] Audit row for %s/%s failed: %v", ev.Event, ev.Reference, err)
		return nil, processingError(err)
	}
	i.archive(ctx, ev)

	ack, err := i.dispatch(ctx, env.Event, data, string(body))
	outcome, procErr := models.WebhookOutcomeProcessed, ""
	switch {
	case err != nil:
		outcome, procErr = models.WebhookOutcomeFailed, err.Error()
		if apperr.Code(err) == apperr.CodeUnhandledEvent {
			outcome = models.WebhookOutcomeUnhandled
		}
	case ack.Outcome != "":
		outcome = ack.Outcome
	}
	if mErr := i.repos.WebhookEvent.MarkOutcome(context.WithoutCancel(ctx), ev.ID, outcome, procErr, i.now()); mErr != nil {
		log.Warnf("[Webhook] Could not store outcome %s for event %d: %v", outcome, ev.ID, mErr)
	}
	return ack, err
}

func (i *Ingestor) dispatch(ctx context.Context, event string, data Data, raw string) (*Ack, error) {
	switch event {
	case EventChargeSuccess, EventTransactionSuccess:
		return i.chargeSuccess(ctx, event, data, raw)
	case EventChargeFailed, EventTransactionFailed:
		return i.chargeFailed(ctx, event, data, raw)
	case EventTransferSuccess:
		return i.transferSuccess(ctx, event, data)
	case EventTransferFailed, EventTransferReversed:
		return i.transferFailed(ctx, event, data)
	default:
		log.Warnf("[Webhook] Unhandled event type %s", event)
		return nil, apperr.ErrUnhandledEvent.WithDetail("event", event)
	}
}

func (i *Ingestor) chargeSuccess(ctx context.Context, event string, data Data, raw string) (*Ack, error) {
	ack := &Ack{Event: event, Reference: data.Reference}
	if data.Reference == "" {
		return nil, apperr.ErrMissingWebhookData.WithDetail("field", "reference")
	}

	tx, err := i.repos.Transaction.GetByReference(ctx, data.Reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Webhook] No transaction for reference %s, ignoring", data.Reference)
		ack.Message, ack.Outcome = "Transaction not found", models.WebhookOutcomeIgnored
		return ack, nil
	}
	if err != nil {
		return nil, processingError(err)
	}
	if tx.AlreadyProcessed() {
		return duplicate(ack), nil
	}
	if tx.Amount > 0 && data.Amount > 0 && tx.Amount != data.Amount {
		log.Warnf("[Webhook] Amount for %s differs: stored %d, provider %d", data.Reference, tx.Amount, data.Amount)
	}

	claimed, err := i.repos.Transaction.ClaimWebhook(ctx, data.Reference, i.now(), raw)
	if err != nil {
		return nil, processingError(err)
	}
	if !claimed {
		return duplicate(ack), nil
	}

	created, err := i.createOrders(ctx, tx, data)
	if err != nil {
		return nil, i.orderFailure(ctx, tx, err)
	}
	log.Infof("[Webhook] Payment %s confirmed, %d order(s) ready", data.Reference, created)
	ack.Message = fmt.Sprintf("Payment processed, %d order(s) created", created)
	return ack, nil
}

// createOrders runs the purchase path for every cart item. Each item gets
// its own payment reference so a redelivery replays instead of duplicating.
func (i *Ingestor) createOrders(ctx context.Context, tx *models.PaymentTransaction, data Data) (int, error) {
	email := tx.BuyerEmail
	if email == "" {
		email = data.Customer.Email
	}
	created := 0
	for n, item := range tx.Items {
		ref := tx.Reference
		if len(tx.Items) > 1 {
			ref = fmt.Sprintf("%s-%d", tx.Reference, n+1)
		}
		req := purchase.Request{
			BookID:            item.BookID,
			BuyerID:           tx.UserID,
			SellerID:          item.SellerID,
			Amount:            item.Price,
			PaymentReference:  ref,
			BuyerEmail:        email,
			ShippingAddress:   tx.ShippingAddress,
			Source:            "webhook",
			ProviderReference: tx.Reference,
		}
		if _, err := i.purchases.Process(ctx, req); err != nil {
			return created, fmt.Errorf("cart item %d (book %s): %w", n+1, item.BookID, err)
		}
		created++
	}
	return created, nil
}

// orderFailure decides whether the provider should redeliver. Transient
// failures release the claim. Business conflicts (book gone, price changed)
// will not heal on retry, so the claim stays and operations is paged to
// refund the buyer.
func (i *Ingestor) orderFailure(ctx context.Context, tx *models.PaymentTransaction, cause error) error {
	bg := context.WithoutCancel(ctx)
	if apperr.HTTPStatus(cause) >= http.StatusInternalServerError {
		if err := i.repos.Transaction.ReleaseWebhook(bg, tx.Reference); err != nil {
			log.Errorf("[Webhook] Releasing claim on %s failed: %v", tx.Reference, err)
		}
		log.Errorf("[Webhook] Order creation for %s failed, awaiting redelivery: %v", tx.Reference, cause)
	} else if i.escalator != nil {
		i.escalator.Escalate(bg, notify.Escalation{
			Kind:        "payment_without_order",
			ReferenceID: tx.Reference,
			Recipient:   tx.BuyerEmail,
			Reason:      cause.Error(),
		})
	}
	return processingError(cause)
}

func (i *Ingestor) chargeFailed(ctx context.Context, event string, data Data, raw string) (*Ack, error) {
	ack := &Ack{Event: event, Reference: data.Reference}
	marked, err := i.repos.Transaction.MarkFailed(ctx, data.Reference, raw)
	if err != nil {
		return nil, processingError(err)
	}
	if !marked {
		ack.Message, ack.Outcome = "No pending transaction to fail", models.WebhookOutcomeIgnored
		return ack, nil
	}
	log.Infof("[Webhook] Payment %s failed at provider", data.Reference)
	ack.Message = "Payment marked failed"
	return ack, nil
}

func (i *Ingestor) transferSuccess(ctx context.Context, event string, data Data) (*Ack, error) {
	ack := &Ack{Event: event, Reference: data.Reference}
	tr, err := i.repos.Transfer.GetByReference(ctx, data.Reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ack.Message, ack.Outcome = "Transfer not found", models.WebhookOutcomeIgnored
		return ack, nil
	}
	if err != nil {
		return nil, processingError(err)
	}
	if tr.AlreadyProcessed() {
		return duplicate(ack), nil
	}

	settled, err := i.repos.Transfer.Settle(ctx, data.Reference, models.TransferStatusSuccess, "", i.now())
	if err != nil {
		return nil, processingError(err)
	}
	if !settled {
		return duplicate(ack), nil
	}
	released, err := i.repos.Order.ReleaseTransfer(ctx, data.Reference)
	if err != nil {
		return nil, processingError(err)
	}
	log.Infof("[Webhook] Transfer %s to seller %s succeeded, %d order(s) released", data.Reference, tr.SellerID, released)
	ack.Message = fmt.Sprintf("Transfer settled, %d order(s) released", released)
	return ack, nil
}

func (i *Ingestor) transferFailed(ctx context.Context, event string, data Data) (*Ack, error) {
	ack := &Ack{Event: event, Reference: data.Reference}
	tr, err := i.repos.Transfer.GetByReference(ctx, data.Reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ack.Message, ack.Outcome = "Transfer not found", models.WebhookOutcomeIgnored
		return ack, nil
	}
	if err != nil {
		return nil, processingError(err)
	}

	status := models.TransferStatusFailed
	if event == EventTransferReversed {
		status = models.TransferStatusReversed
	}
	settled, err := i.repos.Transfer.Settle(ctx, data.Reference, status, data.Reason, i.now())
	if err != nil {
		return nil, processingError(err)
	}
	if !settled {
		return duplicate(ack), nil
	}
	freed, err := i.repos.Order.UnclaimTransfer(ctx, data.Reference)
	if err != nil {
		return nil, processingError(err)
	}

	reason := data.Reason
	if reason == "" {
		reason = strings.ReplaceAll(event, ".", " ")
	}
	if i.escalator != nil {
		i.escalator.Escalate(context.WithoutCancel(ctx), notify.Escalation{
			Kind:        "transfer_" + status,
			ReferenceID: data.Reference,
			SellerID:    tr.SellerID,
			Reason:      reason,
		})
	}
	log.Warnf("[Webhook] Transfer %s %s, %d order(s) returned to payout pool", data.Reference, status, freed)
	ack.Message = "Transfer " + status
	return ack, nil
}

func (i *Ingestor) reject(ctx context.Context, ev *models.WebhookEvent, reason string) {
	ev.Outcome = models.WebhookOutcomeRejected
	ev.ProcessingError = reason
	if err := i.repos.WebhookEvent.Record(context.WithoutCancel(ctx), ev); err != nil {
		log.Errorf("[Webhook] Audit row for rejected delivery failed: %v", err)
	}
}

func (i *Ingestor) archive(ctx context.Context, ev *models.WebhookEvent) {
	if _, ok := i.archiver.(archive.Nop); ok {
		return
	}
	key := archive.WebhookKey(ev.Provider, ev.Event, ev.ID, ev.ReceivedAt)
	payload := []byte(ev.RawPayload)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := i.archiver.PutJSON(ctx, key, payload); err != nil {
			log.Warnf("[Webhook] Archiving %s failed: %v", key, err)
		}
	}()
}

func duplicate(ack *Ack) *Ack {
	log.Infof("[Webhook] Duplicate %s for %s, already processed", ack.Event, ack.Reference)
	ack.Message, ack.Outcome = "Webhook already processed", models.WebhookOutcomeDuplicate
	return ack
}

func processingError(err error) error {
	return apperr.New(apperr.CodeWebhookProcessingError, http.StatusInternalServerError, "Webhook processing failed").Wrap(err)
}
