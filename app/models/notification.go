package models

import "time"

// In-app notification types.
const (
	NotificationPurchase = "purchase"
	NotificationSale     = "sale"
	NotificationCommit   = "commit"
	NotificationDecline  = "decline"
	NotificationExpired  = "expired"
	NotificationDelivery = "delivery"
	NotificationPayout   = "payout"
	NotificationRefund   = "refund"
)

type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:char(36);index" json:"user_id"`
	Type      string    `gorm:"type:varchar(50)" json:"type"`
	Title     string    `gorm:"type:varchar(255)" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	OrderID   string    `gorm:"type:char(36);index" json:"order_id,omitempty"`
	IsRead    bool      `gorm:"default:false" json:"is_read"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
