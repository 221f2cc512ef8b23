package models

import "time"

const (
	BankingStatusPending = "pending"
	BankingStatusActive  = "active"
)

// BankingSubaccount stores a seller's payout bank details. Account number and
// bank code are encrypted at rest; RecipientCode is written once.
type BankingSubaccount struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	UserID                 string    `gorm:"type:char(36);not null;uniqueIndex" json:"user_id"`
	BusinessName           string    `gorm:"type:varchar(200)" json:"business_name"`
	Email                  string    `gorm:"type:varchar(200)" json:"email"`
	BankName               string    `gorm:"type:varchar(150)" json:"bank_name"`
	EncryptedAccountNumber string    `gorm:"type:text" json:"-"`
	EncryptedBankCode      string    `gorm:"type:text" json:"-"`
	RecipientCode          string    `gorm:"type:varchar(191);default:''" json:"recipient_code"`
	Status                 string    `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
