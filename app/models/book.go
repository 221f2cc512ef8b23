package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Book is a seller listing. Sold flips false->true once per successful
// purchase and only goes back on an explicit relist (rollback, decline, expiry).
type Book struct {
	ID        string          `gorm:"type:char(36);primaryKey" json:"id"`
	Title     string          `gorm:"type:varchar(255);not null" json:"title"`
	Author    string          `gorm:"type:varchar(255)" json:"author"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	SellerID  string          `gorm:"type:char(36);not null;index:idx_books_seller_sold,priority:1" json:"seller_id"`
	Sold      bool            `gorm:"default:false;index:idx_books_seller_sold,priority:2" json:"sold"`
	Condition string          `gorm:"type:varchar(50)" json:"condition"`
	Category  string          `gorm:"type:varchar(100)" json:"category"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// PriceMinor returns the price in minor currency units (cents/kobo).
func (b *Book) PriceMinor() int64 {
	return b.Price.Shift(2).Round(0).IntPart()
}
