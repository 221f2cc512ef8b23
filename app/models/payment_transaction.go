package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TransactionStatusPending = "pending"
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"
)

// CartItem is the checkout snapshot stored with a transaction before payment.
type CartItem struct {
	BookID   string          `json:"book_id"`
	SellerID string          `json:"seller_id"`
	Title    string          `json:"title,omitempty"`
	Price    decimal.Decimal `json:"price"`
}

// PaymentTransaction tracks a provider charge from initialization to webhook
// confirmation. WebhookProcessedAt is claimed exactly once.
type PaymentTransaction struct {
	ID                  uint                          `gorm:"primaryKey" json:"id"`
	Reference           string                        `gorm:"type:varchar(191);not null;uniqueIndex" json:"reference"`
	Status              string                        `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	UserID              string                        `gorm:"type:char(36);index" json:"user_id"`
	BuyerEmail          string                        `gorm:"type:varchar(200)" json:"buyer_email"`
	Amount              int64                         `json:"amount"`
	Items               datatypes.JSONSlice[CartItem] `gorm:"type:json" json:"items"`
	ShippingAddress     datatypes.JSONMap             `gorm:"type:json" json:"shipping_address"`
	WebhookProcessedAt  *time.Time                    `gorm:"type:timestamp;default:null" json:"webhook_processed_at,omitempty"`
	ProviderWebhookData string                        `gorm:"type:longtext" json:"-"`
	CreatedAt           time.Time                     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                     `gorm:"autoUpdateTime" json:"updated_at"`
}

// AlreadyProcessed is the duplicate-webhook check: success plus a stamp.
func (t *PaymentTransaction) AlreadyProcessed() bool {
	return t.Status == TransactionStatusSuccess && t.WebhookProcessedAt != nil
}
