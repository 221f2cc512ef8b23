package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPendingCommit OrderStatus = "pending_commit"
	OrderStatusCommitted     OrderStatus = "committed"
	OrderStatusDeclined      OrderStatus = "declined"
	OrderStatusExpired       OrderStatus = "expired"
	OrderStatusDelivered     OrderStatus = "delivered"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusRefunded      OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusReleased PaymentStatus = "released"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Delivery status values reported by the courier.
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusScheduled = "scheduled"
	DeliveryStatusCollected = "collected"
	DeliveryStatusInTransit = "in_transit"
	DeliveryStatusDelivered = "delivered"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingCommit: {OrderStatusCommitted, OrderStatusDeclined, OrderStatusExpired, OrderStatusCancelled},
	OrderStatusCommitted:     {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDeclined:      {OrderStatusRefunded},
	OrderStatusExpired:       {OrderStatusRefunded},
}

// CanTransition reports whether an order may move from one status to another.
// Terminal statuses (delivered, refunded, cancelled) have no outgoing edges.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// OrderItem is one line of the order snapshot.
type OrderItem struct {
	BookID    string          `json:"book_id"`
	Title     string          `json:"title"`
	Author    string          `json:"author,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Condition string          `json:"condition,omitempty"`
}

// DeliveryData holds courier metadata collected over the order's lifetime.
type DeliveryData struct {
	Courier        string     `json:"courier,omitempty"`
	ServiceLevel   string     `json:"service_level,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	DeliveryFee    int64      `json:"delivery_fee"`
	PickupDate     *time.Time `json:"pickup_date,omitempty"`
	CollectedAt    *time.Time `json:"collected_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// Order is a single paid purchase moving through the commit/delivery/payout
// lifecycle. PaymentReference is the idempotency key.
type Order struct {
	ID                       string                           `gorm:"type:char(36);primaryKey" json:"id"`
	BuyerID                  string                           `gorm:"type:char(36);not null;index" json:"buyer_id"`
	SellerID                 string                           `gorm:"type:char(36);not null;index:idx_orders_seller_status,priority:1" json:"seller_id"`
	BookID                   string                           `gorm:"type:char(36);index" json:"book_id"`
	BuyerEmail               string                           `gorm:"type:varchar(200)" json:"buyer_email"`
	Items                    datatypes.JSONSlice[OrderItem]   `gorm:"type:json" json:"items"`
	Amount                   int64                            `gorm:"not null" json:"amount"`
	TotalAmount              decimal.Decimal                  `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Status                   OrderStatus                      `gorm:"type:varchar(32);not null;default:'pending_commit';index:idx_orders_seller_status,priority:2;index:idx_orders_status_deadline,priority:1" json:"status"`
	PaymentStatus            PaymentStatus                    `gorm:"type:varchar(32);not null;default:'pending'" json:"payment_status"`
	PaymentReference         string                           `gorm:"type:varchar(191);not null;uniqueIndex" json:"payment_reference"`
	CommitDeadline           time.Time                        `gorm:"index:idx_orders_status_deadline,priority:2" json:"commit_deadline"`
	PaidAt                   *time.Time                       `json:"paid_at,omitempty"`
	CommittedAt              *time.Time                       `json:"committed_at,omitempty"`
	DeclinedAt               *time.Time                       `json:"declined_at,omitempty"`
	DeclineReason            string                           `gorm:"type:text" json:"decline_reason,omitempty"`
	DeliveredAt              *time.Time                       `json:"delivered_at,omitempty"`
	DeliveryStatus           string                           `gorm:"type:varchar(32);default:'pending'" json:"delivery_status"`
	DeliveryData             datatypes.JSONType[DeliveryData] `gorm:"type:json" json:"delivery_data"`
	ShippingAddressEncrypted string                           `gorm:"type:text" json:"-"`
	TransferReference        *string                          `gorm:"type:varchar(191);index" json:"transfer_reference,omitempty"`
	Metadata                 datatypes.JSONMap                `gorm:"type:json" json:"metadata"`
	CreatedAt                time.Time                        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time                        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// CommitWindowOpen reports whether the seller can still act on the order.
func (o *Order) CommitWindowOpen(now time.Time) bool {
	return o.Status == OrderStatusPendingCommit && now.Before(o.CommitDeadline)
}

// PrimaryItem returns the first line item, or an empty item for legacy rows.
func (o *Order) PrimaryItem() OrderItem {
	if len(o.Items) == 0 {
		return OrderItem{BookID: o.BookID}
	}
	return o.Items[0]
}

// ProviderReference is the charge reference known to the payment provider.
// Orders split from a multi-item cart carry it in metadata.
func (o *Order) ProviderReference() string {
	if ref, ok := o.Metadata["provider_reference"].(string); ok && ref != "" {
		return ref
	}
	return o.PaymentReference
}
