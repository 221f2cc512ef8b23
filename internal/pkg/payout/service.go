// Package payout prepares seller payouts: the commission breakdown over
// delivered orders, the provider-side transfer recipient and the transfer
// itself.
package payout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/archive"
	"github.com/rebooked/marketplace/internal/pkg/notify"
	"github.com/rebooked/marketplace/internal/pkg/paystack"
	"github.com/rebooked/marketplace/internal/pkg/policy"
	"github.com/rebooked/marketplace/internal/pkg/security"
)

// Provider is the payment provider's payout API.
type Provider interface {
	Configured() bool
	CreateRecipient(ctx context.Context, in paystack.RecipientRequest) (*paystack.Recipient, error)
	InitiateTransfer(ctx context.Context, in paystack.TransferRequest) (*paystack.TransferResult, error)
}

type Decrypter interface {
	Decrypt(value string) (string, error)
}

// Locker serialises recipient and transfer creation per seller across
// instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Escalator interface {
	Escalate(ctx context.Context, e notify.Escalation) bool
}

type Deps struct {
	Repos     *repository.Repositories
	Provider  Provider
	Cipher    Decrypter
	Locker    Locker
	Archiver  archive.Archiver
	Escalator Escalator
	Policy    policy.Policy
	// DevMode allows mock recipient codes when the provider is not configured.
	DevMode bool
}

type Service struct {
	repos     *repository.Repositories
	provider  Provider
	cipher    Decrypter
	locker    Locker
	archiver  archive.Archiver
	escalator Escalator
	policy    policy.Policy
	devMode   bool
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		repos:     d.Repos,
		provider:  d.Provider,
		cipher:    d.Cipher,
		locker:    d.Locker,
		archiver:  d.Archiver,
		escalator: d.Escalator,
		policy:    d.Policy,
		devMode:   d.DevMode,
		now:       time.Now,
	}
	if s.locker == nil {
		s.locker = newLocalLocker()
	}
	if s.archiver == nil {
		s.archiver = archive.Nop{}
	}
	return s
}

type SellerInfo struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
}

type RecipientResult struct {
	RecipientCode string     `json:"recipient_code"`
	Message       string     `json:"message"`
	Created       bool       `json:"created"`
	Breakdown     Breakdown  `json:"payment_breakdown"`
	SellerInfo    SellerInfo `json:"seller_info"`
}

const (
	lockTTL  = 30 * time.Second
	lockWait = 5 * time.Second
)

// EnsureRecipient returns the seller's transfer recipient, creating it at
// the provider the first time. It refuses sellers without delivered orders.
func (s *Service) EnsureRecipient(ctx context.Context, sellerID string) (*RecipientResult, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, apperr.New(apperr.CodeMissingRequiredFields, http.StatusBadRequest, "sellerId is required").
			WithDetail("missing_fields", []string{"sellerId"})
	}

	orders, err := s.repos.Order.ListDeliveredBySeller(ctx, sellerID)
	if err != nil {
		return nil, internal(err)
	}
	if len(orders) == 0 {
		return nil, apperr.ErrNoCompletedOrders.WithDetail("seller_id", sellerID)
	}
	breakdown := ComputeBreakdown(orders, s.policy)

	bank, err := s.repos.Banking.GetByUserID(ctx, sellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrBankingNotFound.WithDetail("seller_id", sellerID)
	}
	if err != nil {
		return nil, internal(err)
	}
	account, bankCode, err := s.decryptBanking(bank)
	if err != nil {
		log.Errorf("[Payout] Banking details for %s could not be decrypted: %v", sellerID, err)
		return nil, apperr.New(apperr.CodeBankingDecryptionFailed, http.StatusInternalServerError, "Banking details could not be decrypted").Wrap(err)
	}

	res := &RecipientResult{
		Breakdown:  breakdown,
		SellerInfo: s.sellerInfo(ctx, bank, account),
	}

	if bank.RecipientCode != "" {
		res.RecipientCode = bank.RecipientCode
		res.Message = "Using existing recipient"
		s.archiveBreakdown(ctx, sellerID, res)
		return res, nil
	}

	code, created, err := s.createRecipient(ctx, bank, account, bankCode)
	if err != nil {
		return nil, err
	}
	res.RecipientCode = code
	res.Created = created
	if created {
		res.Message = "Recipient created"
	} else {
		res.Message = "Using existing recipient"
	}
	s.archiveBreakdown(ctx, sellerID, res)
	return res, nil
}

// createRecipient holds the per-seller lock while creating at the provider,
// then stores the code with a conditional write. If another caller stored a
// code first, that one wins.
func (s *Service) createRecipient(ctx context.Context, bank *models.BankingSubaccount, account, bankCode string) (string, bool, error) {
	sellerID := bank.UserID
	release, err := s.lock(ctx, "payout:recipient:"+sellerID, apperr.CodeRecipientCreationFailed)
	if err != nil {
		return "", false, err
	}
	defer release()

	// Re-read under the lock; a concurrent caller may have finished.
	current, err := s.repos.Banking.GetByUserID(ctx, sellerID)
	if err != nil {
		return "", false, internal(err)
	}
	if current.RecipientCode != "" {
		return current.RecipientCode, false, nil
	}

	code, err := s.providerRecipient(ctx, bank, account, bankCode)
	if err != nil {
		return "", false, err
	}

	stored, err := s.repos.Banking.SetRecipientCode(context.WithoutCancel(ctx), sellerID, code)
	if err != nil {
		return "", false, internal(err)
	}
	if !stored {
		current, err := s.repos.Banking.GetByUserID(ctx, sellerID)
		if err != nil {
			return "", false, internal(err)
		}
		log.Warnf("[Payout] Recipient %s for %s lost to stored %s", code, sellerID, current.RecipientCode)
		return current.RecipientCode, false, nil
	}
	log.Infof("[Payout] Recipient %s created for seller %s", code, sellerID)
	return code, true, nil
}

func (s *Service) providerRecipient(ctx context.Context, bank *models.BankingSubaccount, account, bankCode string) (string, error) {
	if s.provider == nil || !s.provider.Configured() {
		if s.devMode {
			code := "RCP_dev_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
			log.Warnf("[Payout] Provider not configured, using mock recipient %s for %s", code, bank.UserID)
			return code, nil
		}
		return "", apperr.New(apperr.CodeRecipientCreationFailed, http.StatusInternalServerError, "Payment provider is not configured")
	}

	name := bank.BusinessName
	if name == "" {
		name = bank.UserID
	}
	rcp, err := s.provider.CreateRecipient(ctx, paystack.RecipientRequest{
		Name:          name,
		AccountNumber: account,
		BankCode:      bankCode,
		Description:   "Seller " + bank.UserID,
	})
	if err != nil {
		status := http.StatusBadGateway
		var apiErr *paystack.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			status = http.StatusBadRequest
		}
		log.Errorf("[Payout] Recipient creation for %s failed: %v", bank.UserID, err)
		return "", apperr.New(apperr.CodeRecipientCreationFailed, status, "Recipient could not be created").Wrap(err)
	}
	return rcp.RecipientCode, nil
}

func (s *Service) decryptBanking(bank *models.BankingSubaccount) (account, bankCode string, err error) {
	account, bankCode = bank.EncryptedAccountNumber, bank.EncryptedBankCode
	if !security.IsEncrypted(account) && !security.IsEncrypted(bankCode) {
		return account, bankCode, nil
	}
	if s.cipher == nil {
		return "", "", security.ErrNoKey
	}
	if account, err = s.cipher.Decrypt(account); err != nil {
		return "", "", err
	}
	if bankCode, err = s.cipher.Decrypt(bankCode); err != nil {
		return "", "", err
	}
	return account, bankCode, nil
}

func (s *Service) sellerInfo(ctx context.Context, bank *models.BankingSubaccount, account string) SellerInfo {
	info := SellerInfo{
		Name:          bank.BusinessName,
		Email:         bank.Email,
		AccountNumber: security.MaskAccountNumber(account),
		BankName:      bank.BankName,
	}
	if p, err := s.repos.Profile.GetByID(ctx, bank.UserID); err == nil {
		if info.Name == "" {
			info.Name = p.DisplayName()
		}
		if info.Email == "" {
			info.Email = p.Email
		}
	}
	return info
}

// lock waits up to lockWait for the per-seller lock.
func (s *Service) lock(ctx context.Context, key, code string) (func(), error) {
	deadline := time.Now().Add(lockWait)
	for {
		release, ok, err := s.locker.Acquire(ctx, key, lockTTL)
		if err != nil {
			return nil, internal(err)
		}
		if ok {
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, apperr.New(code, http.StatusConflict, "A payout operation for this seller is already running").
				WithDetail("lock", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *Service) archiveBreakdown(ctx context.Context, sellerID string, res *RecipientResult) {
	if _, ok := s.archiver.(archive.Nop); ok {
		return
	}
	key := archive.PayoutKey(sellerID, s.now())
	report := map[string]any{
		"seller_id":         sellerID,
		"recipient_code":    res.RecipientCode,
		"payment_breakdown": res.Breakdown,
		"generated_at":      s.now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.archiver.PutJSON(ctx, key, report); err != nil {
			log.Warnf("[Payout] Archiving %s failed: %v", key, err)
		}
	}()
}

func internal(err error) error {
	return apperr.New(apperr.CodeInternal, http.StatusInternalServerError, "Internal server error").Wrap(err)
}

// localLocker is the single-instance fallback when Redis is not wired.
type localLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLocalLocker() *localLocker {
	return &localLocker{held: map[string]bool{}}
}

func (l *localLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return func() {}, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}
