// Package purchase turns a verified payment into an order: it marks the book
// sold with a conditional write, inserts the order and compensates the sold
// flag if the insert fails.
package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/policy"
)

// Notifier is the part of the notification pipeline purchases use.
type Notifier interface {
	Notify(ctx context.Context, userID string, in notify.InApp) error
	SendPurchaseEmails(ctx context.Context, oc notify.OrderContext) notify.Report
}

// Encrypter protects the shipping address at rest.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

type Processor struct {
	repos    *repository.Repositories
	notifier Notifier
	cipher   Encrypter
	policy   policy.Policy
	now      func() time.Time
}

func NewProcessor(repos *repository.Repositories, notifier Notifier, cipher Encrypter, pol policy.Policy) *Processor {
	return &Processor{
		repos:    repos,
		notifier: notifier,
		cipher:   cipher,
		policy:   pol,
		now:      time.Now,
	}
}

// Result is a created (or replayed) order with the context used to build it.
type Result struct {
	Order    *models.Order
	Book     *models.Book
	Buyer    *models.Profile
	Seller   *models.Profile
	Replayed bool
}

// Process runs the purchase. Errors are *apperr.Error with the API code.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if res, err := p.replay(ctx, req); res != nil || err != nil {
		return res, err
	}

	book, err := p.repos.Book.GetAvailable(ctx, req.BookID, req.SellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrBookNotAvailable.WithDetail("book_id", req.BookID)
		}
		return nil, internal(err)
	}

	diff := req.Amount.Sub(book.Price).Abs()
	if diff.GreaterThan(p.policy.AmountTolerance) {
		return nil, apperr.New(apperr.CodeAmountMismatch, http.StatusBadRequest, "Amount does not match the book price").
			WithDetail("expected", book.Price.StringFixed(2)).
			WithDetail("received", req.Amount.StringFixed(2))
	}

	buyer, err := p.repos.Profile.GetByID(ctx, req.BuyerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeBuyerNotFound, http.StatusNotFound, "Buyer not found")
		}
		return nil, internal(err)
	}
	seller, err := p.repos.Profile.GetByID(ctx, req.SellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeSellerNotFound, http.StatusNotFound, "Seller not found")
		}
		return nil, internal(err)
	}
	if req.BuyerID == req.SellerID {
		return nil, apperr.New(apperr.CodeSelfPurchaseNotAllowed, http.StatusBadRequest, "You cannot buy your own book")
	}

	sold, err := p.repos.Book.MarkSold(ctx, book.ID)
	if err != nil {
		return nil, internal(err)
	}
	if !sold {
		return nil, apperr.ErrBookUpdateFailed.WithDetail("book_id", book.ID)
	}

	order := p.buildOrder(req, book, buyer)
	if err := p.repos.Order.Create(ctx, order); err != nil {
		p.compensate(ctx, book.ID, req.PaymentReference, err)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.New(apperr.CodeDuplicatePaymentRef, http.StatusConflict, "Payment reference already used for another purchase").
				WithDetail("payment_reference", req.PaymentReference)
		}
		return nil, apperr.New(apperr.CodeOrderCreationFailed, http.StatusInternalServerError, "Order could not be created; the book was released").
			WithDetail("book_id", book.ID).
			Wrap(err)
	}
	log.Infof("[Purchase] Order %s created for book %s (ref %s, source %s)", order.ID, book.ID, order.PaymentReference, req.Source)

	res := &Result{Order: order, Book: book, Buyer: buyer, Seller: seller}
	p.afterCreate(ctx, res)
	return res, nil
}

// replay returns the existing order when the same payment reference is
// submitted again for the same purchase.
func (p *Processor) replay(ctx context.Context, req Request) (*Result, error) {
	existing, err := p.repos.Order.GetByPaymentReference(ctx, req.PaymentReference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal(err)
	}
	if existing.BookID != req.BookID || existing.BuyerID != req.BuyerID {
		return nil, apperr.New(apperr.CodeDuplicatePaymentRef, http.StatusConflict, "Payment reference already used for another purchase").
			WithDetail("payment_reference", req.PaymentReference)
	}

	log.Infof("[Purchase] Replay of %s returns existing order %s", req.PaymentReference, existing.ID)
	res := &Result{Order: existing, Replayed: true}
	res.Book, _ = p.repos.Book.GetByID(ctx, existing.BookID)
	res.Buyer, _ = p.repos.Profile.GetByID(ctx, existing.BuyerID)
	res.Seller, _ = p.repos.Profile.GetByID(ctx, existing.SellerID)
	return res, nil
}

func (p *Processor) buildOrder(req Request, book *models.Book, buyer *models.Profile) *models.Order {
	now := p.now()
	email := req.BuyerEmail
	if !usableEmail(email) {
		email = buyer.Email
	}
	source := req.Source
	if source == "" {
		source = "direct"
	}

	order := &models.Order{
		BuyerID:    req.BuyerID,
		SellerID:   req.SellerID,
		BookID:     book.ID,
		BuyerEmail: email,
		Items: datatypes.JSONSlice[models.OrderItem]{{
			BookID:    book.ID,
			Title:     book.Title,
			Author:    book.Author,
			Price:     book.Price,
			Condition: book.Condition,
		}},
		Amount:           book.PriceMinor(),
		TotalAmount:      book.Price,
		Status:           models.OrderStatusPendingCommit,
		PaymentStatus:    models.PaymentStatusPaid,
		PaymentReference: req.PaymentReference,
		CommitDeadline:   now.Add(p.policy.CommitWindow),
		PaidAt:           &now,
		DeliveryStatus:   models.DeliveryStatusPending,
		Metadata:         datatypes.JSONMap{"source": source},
	}
	if req.ProviderReference != "" && req.ProviderReference != req.PaymentReference {
		order.Metadata["provider_reference"] = req.ProviderReference
	}
	order.ShippingAddressEncrypted = p.encryptAddress(req)
	return order
}

func (p *Processor) encryptAddress(req Request) string {
	if len(req.ShippingAddress) == 0 {
		return ""
	}
	if p.cipher == nil {
		log.Warnf("[Purchase] No cipher configured, shipping address for %s not stored", req.PaymentReference)
		return ""
	}
	raw, err := json.Marshal(req.ShippingAddress)
	if err != nil {
		return ""
	}
	enc, err := p.cipher.Encrypt(string(raw))
	if err != nil {
		log.Errorf("[Purchase] Encrypting shipping address for %s failed: %v", req.PaymentReference, err)
		return ""
	}
	return enc
}

// compensate puts the book back on sale after a failed order insert.
func (p *Processor) compensate(ctx context.Context, bookID, ref string, cause error) {
	relisted, err := p.repos.Book.Relist(context.WithoutCancel(ctx), bookID)
	switch {
	case err != nil:
		log.Errorw("[Purchase] Rollback of sold flag failed, book stuck as sold",
			"book_id", bookID, "payment_reference", ref, "cause", cause, "error", err)
	case !relisted:
		log.Warnf("[Purchase] Rollback found book %s already unsold (ref %s)", bookID, ref)
	default:
		log.Warnf("[Purchase] Order insert for %s failed, book %s relisted: %v", ref, bookID, cause)
	}
}

// afterCreate runs the best-effort side effects. Nothing here can fail the
// purchase.
func (p *Processor) afterCreate(ctx context.Context, res *Result) {
	order := res.Order
	bg := context.WithoutCancel(ctx)
	title := order.PrimaryItem().Title

	if p.notifier != nil {
		_ = p.notifier.Notify(bg, order.BuyerID, notify.InApp{
			Type:    models.NotificationPurchase,
			Title:   "Purchase confirmed",
			Message: "Your payment for " + title + " was received. The seller has until " + order.CommitDeadline.UTC().Format(time.RFC1123) + " to confirm.",
			OrderID: order.ID,
		})
		_ = p.notifier.Notify(bg, order.SellerID, notify.InApp{
			Type:    models.NotificationSale,
			Title:   "New sale",
			Message: "You sold " + title + ". Commit to the sale within " + p.policy.CommitWindow.String() + " or it will expire.",
			OrderID: order.ID,
		})
	}

	if err := p.repos.Activity.Log(bg, &models.ActivityLog{
		UserID:     order.BuyerID,
		Action:     "purchase",
		EntityType: "order",
		EntityID:   order.ID,
		Metadata: datatypes.JSONMap{
			"book_id":           order.BookID,
			"seller_id":         order.SellerID,
			"amount":            order.Amount,
			"payment_reference": order.PaymentReference,
		},
	}); err != nil {
		log.Warnf("[Purchase] Activity log for order %s failed: %v", order.ID, err)
	}

	if p.repos.Commitment != nil {
		if err := p.repos.Commitment.Upsert(bg, &models.SaleCommitment{
			OrderID:          order.ID,
			BookID:           order.BookID,
			SellerID:         order.SellerID,
			BuyerID:          order.BuyerID,
			PurchaseAmount:   order.TotalAmount,
			TotalAmount:      order.TotalAmount,
			Status:           models.CommitmentStatusPending,
			ExpiresAt:        order.CommitDeadline,
			PaymentReference: order.PaymentReference,
			PaymentStatus:    string(order.PaymentStatus),
		}); err != nil {
			log.Warnf("[Purchase] Legacy commitment mirror for %s failed: %v", order.ID, err)
		}
	}

	if p.notifier != nil {
		rep := p.notifier.SendPurchaseEmails(bg, notify.OrderContext{Order: order, Book: res.Book, Buyer: res.Buyer, Seller: res.Seller})
		if !rep.Delivered() {
			log.Warnf("[Purchase] Purchase emails for %s not all delivered directly (recorded=%t)", order.ID, rep.Recorded())
		}
	}
}

func internal(err error) error {
	return apperr.New(apperr.CodeInternal, http.StatusInternalServerError, "Internal server error").Wrap(err)
}
