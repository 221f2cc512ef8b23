package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Legacy commitment statuses. New code reads Order.Status instead.
const (
	CommitmentStatusPending   = "pending"
	CommitmentStatusCommitted = "committed"
	CommitmentStatusDeclined  = "declined"
	CommitmentStatusExpired   = "expired"
	CommitmentStatusCompleted = "completed"
	CommitmentStatusRefunded  = "refunded"
)

// SaleCommitment is the legacy mirror of an order's commit phase. The table is
// optional; the commitment package only writes it when it exists.
type SaleCommitment struct {
	ID               string          `gorm:"type:char(36);primaryKey" json:"id"`
	OrderID          string          `gorm:"type:char(36);uniqueIndex" json:"order_id"`
	BookID           string          `gorm:"type:char(36);index" json:"book_id"`
	SellerID         string          `gorm:"type:char(36);index" json:"seller_id"`
	BuyerID          string          `gorm:"type:char(36);index" json:"buyer_id"`
	PurchaseAmount   decimal.Decimal `gorm:"type:decimal(12,2)" json:"purchase_amount"`
	DeliveryFee      decimal.Decimal `gorm:"type:decimal(12,2)" json:"delivery_fee"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(12,2)" json:"total_amount"`
	Status           string          `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	ExpiresAt        time.Time       `json:"expires_at"`
	PaymentReference string          `gorm:"type:varchar(191);index" json:"payment_reference"`
	PaymentStatus    string          `gorm:"type:varchar(32)" json:"payment_status"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *SaleCommitment) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
