package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TransferStatusPending  = "pending"
	TransferStatusSuccess  = "success"
	TransferStatusFailed   = "failed"
	TransferStatusReversed = "reversed"
)

// Transfer is a seller payout sent through the payment provider.
type Transfer struct {
	ID                 uint                        `gorm:"primaryKey" json:"id"`
	Reference          string                      `gorm:"type:varchar(191);not null;uniqueIndex" json:"reference"`
	TransferCode       string                      `gorm:"type:varchar(191);index" json:"transfer_code"`
	SellerID           string                      `gorm:"type:char(36);not null;index" json:"seller_id"`
	RecipientCode      string                      `gorm:"type:varchar(191)" json:"recipient_code"`
	Amount             int64                       `gorm:"not null" json:"amount"`
	Status             string                      `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	OrderIDs           datatypes.JSONSlice[string] `gorm:"type:json" json:"order_ids"`
	FailureReason      string                      `gorm:"type:text" json:"failure_reason,omitempty"`
	WebhookProcessedAt *time.Time                  `gorm:"type:timestamp;default:null" json:"webhook_processed_at,omitempty"`
	CreatedAt          time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// AlreadyProcessed mirrors PaymentTransaction.AlreadyProcessed for transfers.
func (t *Transfer) AlreadyProcessed() bool {
	return t.Status == TransferStatusSuccess && t.WebhookProcessedAt != nil
}
