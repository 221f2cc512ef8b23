package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
)

// transactionRepository implements the TransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *transactionRepository) GetByReference(ctx context.Context, ref string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("reference = ?", ref).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) ClaimWebhook(ctx context.Context, ref string, at time.Time, payload string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("reference = ? AND webhook_processed_at IS NULL", ref).
		Updates(map[string]any{
			"status":                models.TransactionStatusSuccess,
			"webhook_processed_at":  at,
			"provider_webhook_data": payload,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *transactionRepository) ReleaseWebhook(ctx context.Context, ref string) error {
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("reference = ?", ref).
		Update("webhook_processed_at", nil).Error
}

func (r *transactionRepository) MarkFailed(ctx context.Context, ref string, payload string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("reference = ? AND status <> ?", ref, models.TransactionStatusSuccess).
		Updates(map[string]any{
			"status":                models.TransactionStatusFailed,
			"provider_webhook_data": payload,
		})
	return res.RowsAffected == 1, res.Error
}

// transferRepository implements the TransferRepository interface
type transferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

func (r *transferRepository) Create(ctx context.Context, t *models.Transfer) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *transferRepository) GetByReference(ctx context.Context, ref string) (*models.Transfer, error) {
	var t models.Transfer
	if err := r.db.WithContext(ctx).Where("reference = ?", ref).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transferRepository) SetTransferCode(ctx context.Context, ref, code string) error {
	return r.db.WithContext(ctx).Model(&models.Transfer{}).
		Where("reference = ?", ref).
		Update("transfer_code", code).Error
}

func (r *transferRepository) Settle(ctx context.Context, ref, status, reason string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Transfer{}).
		Where("reference = ? AND webhook_processed_at IS NULL", ref).
		Updates(map[string]any{
			"status":               status,
			"failure_reason":       reason,
			"webhook_processed_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *transferRepository) MarkFailed(ctx context.Context, ref, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Transfer{}).
		Where("reference = ? AND status = ? AND webhook_processed_at IS NULL", ref, models.TransferStatusPending).
		Updates(map[string]any{
			"status":         models.TransferStatusFailed,
			"failure_reason": reason,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *transferRepository) NoteFailure(ctx context.Context, ref, reason string) error {
	return r.db.WithContext(ctx).Model(&models.Transfer{}).
		Where("reference = ? AND webhook_processed_at IS NULL", ref).
		Update("failure_reason", reason).Error
}

// bankingRepository implements the BankingRepository interface
type bankingRepository struct {
	db *gorm.DB
}

func NewBankingRepository(db *gorm.DB) BankingRepository {
	return &bankingRepository{db: db}
}

func (r *bankingRepository) Create(ctx context.Context, b *models.BankingSubaccount) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *bankingRepository) GetByUserID(ctx context.Context, userID string) (*models.BankingSubaccount, error) {
	var b models.BankingSubaccount
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bankingRepository) SetRecipientCode(ctx context.Context, userID, code string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.BankingSubaccount{}).
		Where("user_id = ? AND (recipient_code = '' OR recipient_code IS NULL)", userID).
		Updates(map[string]any{
			"recipient_code": code,
			"status":         models.BankingStatusActive,
		})
	return res.RowsAffected == 1, res.Error
}
