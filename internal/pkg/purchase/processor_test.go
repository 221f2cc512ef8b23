package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository/memory"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/mail"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/policy"
	"github.com/rebooked/marketplace/internal/pkg/security"
)

func newTestProcessor(t *testing.T, withCommitments bool) (*Processor, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories(withCommitments)
	ctx := context.Background()

	require.NoError(t, repos.Profile.Create(ctx, &models.Profile{ID: "S1", Name: "Seller One", Email: "s1@example.com"}))
	require.NoError(t, repos.Profile.Create(ctx, &models.Profile{ID: "BY1", Name: "Buyer One", Email: "by1@example.com"}))
	require.NoError(t, repos.Profile.Create(ctx, &models.Profile{ID: "BY2", Name: "Buyer Two", Email: "by2@example.com"}))
	require.NoError(t, repos.Book.Create(ctx, &models.Book{
		ID: "B1", Title: "Calculus", Author: "Stewart", SellerID: "S1",
		Price: decimal.RequireFromString("150.00"),
	}))

	sender := mail.SenderFunc(func(context.Context, mail.Message) error { return nil })
	d := notify.NewDispatcher(sender, nil, repos, notify.LogSink{}, notify.Config{OpsEmail: "ops@example.com", SendTimeout: time.Second})
	cipher, err := security.NewCipher("test-secret")
	require.NoError(t, err)

	return NewProcessor(repos, d, cipher, policy.Default()), store
}

func validRequest(ref string) Request {
	return Request{
		BookID:           "B1",
		BuyerID:          "BY1",
		SellerID:         "S1",
		Amount:           decimal.RequireFromString("150.00"),
		PaymentReference: ref,
		ShippingAddress:  map[string]any{"street": "1 Main Rd", "city": "Cape Town"},
		Source:           "direct",
	}
}

func TestProcess_BuyerEmailFallsBackToProfile(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"explicit address", "campus@example.com", "campus@example.com"},
		{"malformed address", "not-an-email", "by1@example.com"},
		{"no address", "", "by1@example.com"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProcessor(t, false)
			req := validRequest("ref-email-" + string(rune('a'+i)))
			req.BuyerEmail = tt.email

			res, err := p.Process(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Order.BuyerEmail)
		})
	}
}

func bookSold(t *testing.T, p *Processor) bool {
	t.Helper()
	b, err := p.repos.Book.GetByID(context.Background(), "B1")
	require.NoError(t, err)
	return b.Sold
}

func TestProcess_CreatesPendingOrder(t *testing.T) {
	p, store := newTestProcessor(t, false)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	res, err := p.Process(context.Background(), validRequest("ref-1"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	order := res.Order
	assert.Equal(t, models.OrderStatusPendingCommit, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, fixed.Add(48*time.Hour), order.CommitDeadline)
	assert.Equal(t, int64(15000), order.Amount)
	assert.Equal(t, "by1@example.com", order.BuyerEmail)
	assert.True(t, security.IsEncrypted(order.ShippingAddressEncrypted))
	assert.True(t, bookSold(t, p))

	resp := res.Response()
	assert.Equal(t, "Calculus", resp.BookTitle)
	assert.Equal(t, "Stewart", resp.BookAuthor)
	assert.Equal(t, "Seller One", resp.SellerName)
	assert.Equal(t, "Buyer One", resp.BuyerName)
	assert.Equal(t, "pending_commit", resp.Status)

	notes := store.Notifications()
	require.Len(t, notes, 2)
	users := []string{notes[0].UserID, notes[1].UserID}
	assert.ElementsMatch(t, []string{"BY1", "S1"}, users)
	require.Len(t, store.Activity(), 1)
	assert.Equal(t, "purchase", store.Activity()[0].Action)
}

func TestProcess_ReplaySameReference(t *testing.T) {
	p, store := newTestProcessor(t, false)
	ctx := context.Background()

	first, err := p.Process(ctx, validRequest("ref-1"))
	require.NoError(t, err)

	second, err := p.Process(ctx, validRequest("ref-1"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, store.Orders(), 1)
	assert.Len(t, store.Notifications(), 2, "replay must not notify again")
}

func TestProcess_ReferenceReusedForOtherBuyer(t *testing.T) {
	p, _ := newTestProcessor(t, false)
	ctx := context.Background()

	_, err := p.Process(ctx, validRequest("ref-1"))
	require.NoError(t, err)

	req := validRequest("ref-1")
	req.BuyerID = "BY2"
	_, err = p.Process(ctx, req)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeDuplicatePaymentRef, apperr.Code(err))
	assert.Equal(t, 409, apperr.HTTPStatus(err))
}

func TestProcess_NoDoubleSale(t *testing.T) {
	p, store := newTestProcessor(t, false)
	buyers := []string{"BY1", "BY2"}

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest("ref-race-" + string(rune('a'+i)))
			req.BuyerID = buyers[i%2]
			_, errs[i] = p.Process(context.Background(), req)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		code := apperr.Code(err)
		assert.Contains(t, []string{apperr.CodeBookUpdateFailed, apperr.CodeBookNotAvailable}, code)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, store.Orders(), 1)
}

func TestProcess_RollbackOnOrderInsertFailure(t *testing.T) {
	p, store := newTestProcessor(t, false)
	store.FailOrderCreate = func(*models.Order) error { return errors.New("insert failed") }

	_, err := p.Process(context.Background(), validRequest("ref-1"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeOrderCreationFailed, apperr.Code(err))
	assert.False(t, bookSold(t, p))

	store.FailOrderCreate = nil
	res, err := p.Process(context.Background(), validRequest("ref-2"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingCommit, res.Order.Status)
}

func TestProcess_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
		code   string
		status int
	}{
		{"amount above tolerance", func(r *Request) { r.Amount = decimal.RequireFromString("150.02") }, apperr.CodeAmountMismatch, 400},
		{"amount within tolerance", nil, "", 200},
		{"wrong seller", func(r *Request) { r.SellerID = "BY2" }, apperr.CodeBookNotAvailable, 404},
		{"unknown book", func(r *Request) { r.BookID = "nope" }, apperr.CodeBookNotAvailable, 404},
		{"unknown buyer", func(r *Request) { r.BuyerID = "ghost" }, apperr.CodeBuyerNotFound, 404},
		{"self purchase", func(r *Request) { r.BuyerID = "S1" }, apperr.CodeSelfPurchaseNotAllowed, 400},
		{"zero amount", func(r *Request) { r.Amount = decimal.Zero }, apperr.CodeInvalidAmountFormat, 400},
		{"missing reference", func(r *Request) { r.PaymentReference = "" }, apperr.CodeMissingRequiredFields, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store := newTestProcessor(t, false)
			req := validRequest("ref-1")
			if tt.mutate != nil {
				tt.mutate(&req)
			} else {
				req.Amount = decimal.RequireFromString("150.005")
			}

			_, err := p.Process(context.Background(), req)
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.Code(err))
			assert.Equal(t, tt.status, apperr.HTTPStatus(err))
			assert.Empty(t, store.Orders())
			assert.False(t, bookSold(t, p))
		})
	}
}

func TestProcess_AmountMismatchDetails(t *testing.T) {
	p, _ := newTestProcessor(t, false)
	req := validRequest("ref-1")
	req.Amount = decimal.RequireFromString("100")

	_, err := p.Process(context.Background(), req)
	details := apperr.DetailsOf(err)
	assert.Equal(t, "150.00", details["expected"])
	assert.Equal(t, "100.00", details["received"])
}

func TestProcess_SideEffectFailuresDoNotFailPurchase(t *testing.T) {
	p, store := newTestProcessor(t, true)
	store.FailNotificationCreate = func(*models.Notification) error { return errors.New("notifications down") }

	res, err := p.Process(context.Background(), validRequest("ref-1"))
	require.NoError(t, err)
	assert.Empty(t, store.Notifications())

	c, ok := store.Commitment(res.Order.ID)
	require.True(t, ok)
	assert.Equal(t, models.CommitmentStatusPending, c.Status)
}
