package payout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/app/repository/memory"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/paystack"
	"github.com/rebooked/marketplace/internal/pkg/policy"
	"github.com/rebooked/marketplace/internal/pkg/security"
)

type fakeProvider struct {
	configured  bool
	recipients  atomic.Int32
	transfers   atomic.Int32
	recipientFn func() error
	transferErr error
	lastAcct    string
}

func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) CreateRecipient(_ context.Context, in paystack.RecipientRequest) (*paystack.Recipient, error) {
	// Slow enough for concurrent callers to overlap.
	time.Sleep(20 * time.Millisecond)
	if f.recipientFn != nil {
		if err := f.recipientFn(); err != nil {
			return nil, err
		}
	}
	n := f.recipients.Add(1)
	f.lastAcct = in.AccountNumber
	return &paystack.Recipient{RecipientCode: "RCP_" + string(rune('0'+n)), Active: true}, nil
}

func (f *fakeProvider) InitiateTransfer(_ context.Context, in paystack.TransferRequest) (*paystack.TransferResult, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers.Add(1)
	return &paystack.TransferResult{TransferCode: "TRF_1", Reference: in.Reference, Status: "pending", Amount: in.Amount}, nil
}

type setup struct {
	store    *memory.Store
	repos    *repository.Repositories
	provider *fakeProvider
	cipher   *security.Cipher
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	store := memory.NewStore()
	cipher, err := security.NewCipher("payout-test-key")
	require.NoError(t, err)
	s := &setup{store: store, repos: store.Repositories(false), provider: &fakeProvider{configured: true}, cipher: cipher}
	require.NoError(t, s.repos.Profile.Create(context.Background(), &models.Profile{ID: "S1", Name: "Thandi", Email: "s1@example.com"}))
	return s
}

func (s *setup) service(dev bool) *Service {
	return NewService(Deps{Repos: s.repos, Provider: s.provider, Cipher: s.cipher, Policy: policy.Default(), DevMode: dev})
}

func (s *setup) banking(t *testing.T, account string) {
	t.Helper()
	acct, err := s.cipher.Encrypt(account)
	require.NoError(t, err)
	code, err := s.cipher.Encrypt("250655")
	require.NoError(t, err)
	require.NoError(t, s.repos.Banking.Create(context.Background(), &models.BankingSubaccount{
		UserID: "S1", BusinessName: "Thandi Books", Email: "pay@example.com", BankName: "FNB",
		EncryptedAccountNumber: acct, EncryptedBankCode: code,
	}))
}

func (s *setup) delivered(t *testing.T, ref string, amount, fee int64) string {
	t.Helper()
	now := time.Now()
	o := &models.Order{
		BuyerID: "BY1", SellerID: "S1", BookID: "B-" + ref, PaymentReference: ref,
		Items:  []models.OrderItem{{Title: "Book " + ref}},
		Amount: amount, TotalAmount: decimal.New(amount, -2),
		Status: models.OrderStatusDelivered, PaymentStatus: models.PaymentStatusPaid,
		DeliveryStatus: models.DeliveryStatusDelivered, PaidAt: &now, DeliveredAt: &now,
		DeliveryData: datatypes.NewJSONType(models.DeliveryData{DeliveryFee: fee, TrackingNumber: "TRK-" + ref}),
	}
	require.NoError(t, s.repos.Order.Create(context.Background(), o))
	return o.ID
}

func TestComputeBreakdown(t *testing.T) {
	orders := []models.Order{
		{ID: "a", Amount: 15000, DeliveryData: datatypes.NewJSONType(models.DeliveryData{DeliveryFee: 9500})},
		{ID: "b", Amount: 8000},
	}
	b := ComputeBreakdown(orders, policy.Default())

	assert.Equal(t, 2, b.OrderCount)
	assert.Equal(t, "230.00", b.TotalBookAmount.StringFixed(2))
	assert.Equal(t, "95.00", b.TotalDeliveryFees.StringFixed(2))
	assert.Equal(t, "23.00", b.PlatformBookCommission.StringFixed(2))
	assert.Equal(t, "95.00", b.PlatformDeliveryFees.StringFixed(2))
	assert.Equal(t, "207.00", b.SellerAmount.StringFixed(2))
	assert.EqualValues(t, 20700, b.SellerAmountMinor())

	require.Len(t, b.Orders, 2)
	assert.Equal(t, "15.00", b.Orders[0].PlatformCommission.StringFixed(2))
	assert.Equal(t, "135.00", b.Orders[0].SellerAmount.StringFixed(2))
}

func TestEnsureRecipient_IsIdempotent(t *testing.T) {
	s := newSetup(t)
	s.banking(t, "62812345678")
	s.delivered(t, "o1", 15000, 9500)
	svc := s.service(false)

	first, err := svc.EnsureRecipient(context.Background(), "S1")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "62812345678", s.provider.lastAcct, "provider receives the decrypted account")

	second, err := svc.EnsureRecipient(context.Background(), "S1")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.RecipientCode, second.RecipientCode)
	assert.EqualValues(t, 1, s.provider.recipients.Load())

	assert.Equal(t, "*******5678", second.SellerInfo.AccountNumber)
	assert.Equal(t, "FNB", second.SellerInfo.BankName)
	assert.Equal(t, "Thandi Books", second.SellerInfo.Name)
	assert.Equal(t, "135.00", second.Breakdown.SellerAmount.StringFixed(2))

	bank, err := s.repos.Banking.GetByUserID(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, models.BankingStatusActive, bank.Status)
}

func TestEnsureRecipient_ConcurrentCallsConverge(t *testing.T) {
	s := newSetup(t)
	s.banking(t, "62812345678")
	s.delivered(t, "o1", 15000, 0)
	svc := s.service(false)

	const callers = 5
	codes := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.EnsureRecipient(context.Background(), "S1")
			if assert.NoError(t, err) {
				codes[i] = res.RecipientCode
			}
		}(i)
	}
	wg.Wait()

	for _, c := range codes {
		assert.Equal(t, codes[0], c)
	}
	assert.EqualValues(t, 1, s.provider.recipients.Load())
	assert.Equal(t, 1, s.store.RecipientWrites)
}

func TestEnsureRecipient_Errors(t *testing.T) {
	t.Run("no delivered orders", func(t *testing.T) {
		s := newSetup(t)
		s.banking(t, "62812345678")
		_, err := s.service(false).EnsureRecipient(context.Background(), "S1")
		assert.Equal(t, apperr.CodeNoCompletedOrders, apperr.Code(err))
		assert.Equal(t, 400, apperr.HTTPStatus(err))
		assert.Zero(t, s.provider.recipients.Load())
	})

	t.Run("banking missing", func(t *testing.T) {
		s := newSetup(t)
		s.delivered(t, "o1", 15000, 0)
		_, err := s.service(false).EnsureRecipient(context.Background(), "S1")
		assert.Equal(t, apperr.CodeBankingNotFound, apperr.Code(err))
		assert.Equal(t, 404, apperr.HTTPStatus(err))
	})

	t.Run("undecryptable banking", func(t *testing.T) {
		s := newSetup(t)
		s.banking(t, "62812345678")
		s.delivered(t, "o1", 15000, 0)
		other, err := security.NewCipher("another-key")
		require.NoError(t, err)
		s.cipher = other
		_, err = s.service(false).EnsureRecipient(context.Background(), "S1")
		assert.Equal(t, apperr.CodeBankingDecryptionFailed, apperr.Code(err))
		assert.Equal(t, 500, apperr.HTTPStatus(err))
	})

	t.Run("provider rejects", func(t *testing.T) {
		s := newSetup(t)
		s.banking(t, "62812345678")
		s.delivered(t, "o1", 15000, 0)
		s.provider.recipientFn = func() error { return &paystack.APIError{StatusCode: 400, Message: "Invalid bank code"} }
		_, err := s.service(false).EnsureRecipient(context.Background(), "S1")
		assert.Equal(t, apperr.CodeRecipientCreationFailed, apperr.Code(err))
		assert.Equal(t, 400, apperr.HTTPStatus(err))
		assert.Zero(t, s.store.RecipientWrites)
	})

	t.Run("provider unreachable", func(t *testing.T) {
		s := newSetup(t)
		s.banking(t, "62812345678")
		s.delivered(t, "o1", 15000, 0)
		s.provider.recipientFn = func() error { return errors.New("dial tcp: timeout") }
		_, err := s.service(false).EnsureRecipient(context.Background(), "S1")
		assert.Equal(t, 502, apperr.HTTPStatus(err))
	})
}

func TestEnsureRecipient_DevModeMock(t *testing.T) {
	s := newSetup(t)
	s.provider.configured = false
	s.banking(t, "62812345678")
	s.delivered(t, "o1", 15000, 0)

	res, err := s.service(true).EnsureRecipient(context.Background(), "S1")
	require.NoError(t, err)
	assert.Contains(t, res.RecipientCode, "RCP_dev_")
	assert.Zero(t, s.provider.recipients.Load())

	_, err = s.service(false).EnsureRecipient(context.Background(), "S1")
	require.NoError(t, err, "stored mock code is reused even outside dev")
}

func TestInitiateTransfer(t *testing.T) {
	s := newSetup(t)
	s.banking(t, "62812345678")
	a := s.delivered(t, "o1", 15000, 9500)
	b := s.delivered(t, "o2", 8000, 0)
	svc := s.service(false)

	res, err := svc.InitiateTransfer(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "TRF_1", res.TransferCode)
	assert.EqualValues(t, 20700, res.Amount)
	assert.ElementsMatch(t, []string{a, b}, res.OrderIDs)

	tr, err := s.repos.Transfer.GetByReference(context.Background(), res.Reference)
	require.NoError(t, err)
	assert.Equal(t, "TRF_1", tr.TransferCode)
	assert.Equal(t, models.TransferStatusPending, tr.Status)

	_, err = svc.InitiateTransfer(context.Background(), "S1")
	assert.Equal(t, apperr.CodeNoTransferableOrders, apperr.Code(err))
	assert.EqualValues(t, 1, s.provider.transfers.Load())
}

type recordingEscalator struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingEscalator) Escalate(_ context.Context, e notify.Escalation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, e.Kind)
	return true
}

func TestInitiateTransfer_UnconfirmedTransferKeepsOrdersClaimed(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"provider 5xx", &paystack.APIError{StatusCode: 500, Message: "upstream"}},
		{"rate limited", &paystack.APIError{StatusCode: 429, Message: "slow down"}},
		{"transport error", errors.New("read tcp: connection reset by peer")},
		{"client timeout", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newSetup(t)
			s.banking(t, "62812345678")
			id := s.delivered(t, "o1", 15000, 0)
			s.provider.transferErr = tt.err
			esc := &recordingEscalator{}
			svc := NewService(Deps{Repos: s.repos, Provider: s.provider, Cipher: s.cipher, Escalator: esc, Policy: policy.Default()})

			_, err := svc.InitiateTransfer(ctx, "S1")
			assert.Equal(t, apperr.CodeTransferFailed, apperr.Code(err))
			assert.Equal(t, 502, apperr.HTTPStatus(err))
			ref, _ := apperr.DetailsOf(err)["reference"].(string)
			require.NotEmpty(t, ref)
			assert.Equal(t, []string{"transfer_unconfirmed"}, esc.kinds)

			tr, err := s.repos.Transfer.GetByReference(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, models.TransferStatusPending, tr.Status)
			assert.Nil(t, tr.WebhookProcessedAt)
			assert.NotEmpty(t, tr.FailureReason)

			o, err := s.repos.Order.GetByID(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, o.TransferReference)
			assert.Equal(t, ref, *o.TransferReference)

			// A second request must not pay the same orders again.
			s.provider.transferErr = nil
			_, err = svc.InitiateTransfer(ctx, "S1")
			assert.Equal(t, apperr.CodeNoTransferableOrders, apperr.Code(err))
			assert.Zero(t, s.provider.transfers.Load())

			// The provider's success event for the first reference still settles it.
			settled, err := s.repos.Transfer.Settle(ctx, ref, models.TransferStatusSuccess, "", time.Now())
			require.NoError(t, err)
			assert.True(t, settled)
			released, err := s.repos.Order.ReleaseTransfer(ctx, ref)
			require.NoError(t, err)
			assert.EqualValues(t, 1, released)
		})
	}
}

func TestInitiateTransfer_RejectedTransferReleasesOrders(t *testing.T) {
	ctx := context.Background()
	s := newSetup(t)
	s.banking(t, "62812345678")
	id := s.delivered(t, "o1", 15000, 0)
	s.provider.transferErr = &paystack.APIError{StatusCode: 400, Message: "insufficient balance"}
	svc := s.service(false)

	_, err := svc.InitiateTransfer(ctx, "S1")
	assert.Equal(t, apperr.CodeTransferFailed, apperr.Code(err))
	assert.Equal(t, 400, apperr.HTTPStatus(err))

	o, err := s.repos.Order.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, o.TransferReference)

	s.provider.transferErr = nil
	res, err := svc.InitiateTransfer(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, res.OrderIDs)
	assert.EqualValues(t, 1, s.provider.transfers.Load())
}
