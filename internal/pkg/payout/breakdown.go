package payout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/internal/pkg/policy"
)

// Timeline is the audit trail of one order's lifecycle.
type Timeline struct {
	CreatedAt   time.Time  `json:"created_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
	CollectedAt *time.Time `json:"collected_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

type OrderLine struct {
	OrderID            string          `json:"order_id"`
	BookTitle          string          `json:"book_title"`
	PaymentReference   string          `json:"payment_reference"`
	BookAmount         decimal.Decimal `json:"book_amount"`
	DeliveryFee        decimal.Decimal `json:"delivery_fee"`
	PlatformCommission decimal.Decimal `json:"platform_commission"`
	SellerAmount       decimal.Decimal `json:"seller_amount"`
	Timeline           Timeline        `json:"timeline"`
}

// Breakdown is the payout reconciliation for a set of delivered orders.
// Amounts are in major currency units.
type Breakdown struct {
	OrderCount             int             `json:"order_count"`
	TotalBookAmount        decimal.Decimal `json:"total_book_amount"`
	TotalDeliveryFees      decimal.Decimal `json:"total_delivery_fees"`
	CommissionRate         decimal.Decimal `json:"commission_rate"`
	PlatformBookCommission decimal.Decimal `json:"platform_book_commission"`
	PlatformDeliveryFees   decimal.Decimal `json:"platform_delivery_fees"`
	SellerAmount           decimal.Decimal `json:"seller_amount"`
	Orders                 []OrderLine     `json:"orders"`
}

// SellerAmountMinor is the transfer amount in minor units.
func (b Breakdown) SellerAmountMinor() int64 {
	return b.SellerAmount.Shift(2).Round(0).IntPart()
}

func minorToMajor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// ComputeBreakdown applies the commission split. The seller gets the book
// amount less commission; delivery fees go to the platform at the
// configured share.
func ComputeBreakdown(orders []models.Order, pol policy.Policy) Breakdown {
	b := Breakdown{
		OrderCount:        len(orders),
		TotalBookAmount:   decimal.Zero,
		TotalDeliveryFees: decimal.Zero,
		CommissionRate:    pol.CommissionRate,
		Orders:            make([]OrderLine, 0, len(orders)),
	}
	for i := range orders {
		o := &orders[i]
		delivery := o.DeliveryData.Data()
		book := minorToMajor(o.Amount)
		fee := minorToMajor(delivery.DeliveryFee)
		commission := book.Mul(pol.CommissionRate).Round(2)

		b.TotalBookAmount = b.TotalBookAmount.Add(book)
		b.TotalDeliveryFees = b.TotalDeliveryFees.Add(fee)
		b.Orders = append(b.Orders, OrderLine{
			OrderID:            o.ID,
			BookTitle:          o.PrimaryItem().Title,
			PaymentReference:   o.PaymentReference,
			BookAmount:         book,
			DeliveryFee:        fee,
			PlatformCommission: commission,
			SellerAmount:       book.Sub(commission),
			Timeline: Timeline{
				CreatedAt:   o.CreatedAt,
				PaidAt:      o.PaidAt,
				CommittedAt: o.CommittedAt,
				CollectedAt: delivery.CollectedAt,
				DeliveredAt: firstTime(o.DeliveredAt, delivery.DeliveredAt),
			},
		})
	}
	b.PlatformBookCommission = b.TotalBookAmount.Mul(pol.CommissionRate).Round(2)
	b.PlatformDeliveryFees = b.TotalDeliveryFees.Mul(pol.DeliveryFeeShare).Round(2)
	b.SellerAmount = b.TotalBookAmount.Sub(b.PlatformBookCommission)
	return b
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}
