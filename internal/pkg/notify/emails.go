package notify

import (
	"context"
	"time"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/internal/pkg/mail"
)

// Email kinds, also used as MailQueue.email_type prefixes.
const (
	KindPurchase = "purchase"
	KindCommit   = "commit"
	KindDecline  = "decline"
	KindExpired  = "expired"
)

// OrderContext is what the order emails need. Book may be nil for orders
// whose listing was removed; the order snapshot is used instead.
type OrderContext struct {
	Order  *models.Order
	Book   *models.Book
	Buyer  *models.Profile
	Seller *models.Profile
	Reason string
}

func (oc OrderContext) data() map[string]any {
	item := oc.Order.PrimaryItem()
	title := item.Title
	if oc.Book != nil && oc.Book.Title != "" {
		title = oc.Book.Title
	}
	delivery := oc.Order.DeliveryData.Data()
	data := map[string]any{
		"OrderID":        oc.Order.ID,
		"SellerID":       oc.Order.SellerID,
		"BookTitle":      title,
		"Amount":         "R" + oc.Order.TotalAmount.StringFixed(2),
		"Deadline":       oc.Order.CommitDeadline.UTC().Format("2006-01-02 15:04 MST"),
		"BuyerName":      displayName(oc.Buyer),
		"SellerName":     displayName(oc.Seller),
		"TrackingNumber": delivery.TrackingNumber,
		"Reason":         oc.Reason,
	}
	if delivery.PickupDate != nil {
		data["PickupDate"] = delivery.PickupDate.UTC().Format(time.DateOnly)
	}
	return data
}

func (oc OrderContext) buyerEmail() string {
	if oc.Order.BuyerEmail != "" {
		return oc.Order.BuyerEmail
	}
	if oc.Buyer != nil {
		return oc.Buyer.Email
	}
	return ""
}

func (oc OrderContext) sellerEmail() string {
	if oc.Seller != nil {
		return oc.Seller.Email
	}
	return ""
}

func displayName(p *models.Profile) string {
	if p == nil {
		return "there"
	}
	return p.DisplayName()
}

type pairTemplates struct {
	buyerTpl, buyerSubject   string
	sellerTpl, sellerSubject string
	priority                 models.MailPriority
}

var orderEmails = map[string]pairTemplates{
	KindPurchase: {
		mail.TemplatePurchaseBuyer, "Order confirmed",
		mail.TemplatePurchaseSeller, "New sale: please commit within the deadline",
		models.MailPriorityHigh,
	},
	KindCommit: {
		mail.TemplateCommitBuyer, "Your order has been confirmed by the seller",
		mail.TemplateCommitSeller, "Sale committed: prepare for collection",
		models.MailPriorityHigh,
	},
	KindDecline: {
		mail.TemplateDeclineBuyer, "Your order was cancelled and refunded",
		mail.TemplateDeclineSeller, "Sale declined",
		models.MailPriorityHigh,
	},
	KindExpired: {
		mail.TemplateExpiredBuyer, "Your order expired and will be refunded",
		mail.TemplateExpiredSeller, "Sale expired",
		models.MailPriorityNormal,
	},
}

func pairNotices(kind string, oc OrderContext) []Notice {
	t := orderEmails[kind]
	data := oc.data()
	return []Notice{
		{
			Recipient:   "seller",
			To:          oc.sellerEmail(),
			Subject:     t.sellerSubject,
			Template:    t.sellerTpl,
			Data:        data,
			EmailType:   kind + "_seller",
			ReferenceID: oc.Order.ID,
			Priority:    t.priority,
		},
		{
			Recipient:   "buyer",
			To:          oc.buyerEmail(),
			Subject:     t.buyerSubject,
			Template:    t.buyerTpl,
			Data:        data,
			EmailType:   kind + "_buyer",
			ReferenceID: oc.Order.ID,
			Priority:    t.priority,
		},
	}
}

func (d *Dispatcher) pair(ctx context.Context, kind string, oc OrderContext) Report {
	return d.DeliverAll(ctx, kind, oc.Order.ID, pairNotices(kind, oc)...)
}

// SendPurchaseEmails tells the buyer the payment landed and the seller that
// they must commit before the deadline.
func (d *Dispatcher) SendPurchaseEmails(ctx context.Context, oc OrderContext) Report {
	return d.pair(ctx, KindPurchase, oc)
}

func (d *Dispatcher) SendCommitEmails(ctx context.Context, oc OrderContext) Report {
	return d.pair(ctx, KindCommit, oc)
}

func (d *Dispatcher) SendDeclineEmails(ctx context.Context, oc OrderContext) Report {
	return d.pair(ctx, KindDecline, oc)
}

func (d *Dispatcher) SendExpiryEmails(ctx context.Context, oc OrderContext) Report {
	return d.pair(ctx, KindExpired, oc)
}

// RetryUnrecorded redelivers only the recipients of prev that ended
// unrecorded. Recipients already sent, queued or escalated are not emailed
// again and no second verification record is queued.
func (d *Dispatcher) RetryUnrecorded(ctx context.Context, oc OrderContext, prev Report) Report {
	out := prev
	out.Results = append([]Result(nil), prev.Results...)
	pending := map[string]int{}
	for i, r := range out.Results {
		if r.Outcome == OutcomeUnrecorded {
			pending[r.Recipient] = i
		}
	}
	if len(pending) == 0 {
		return out
	}
	for _, n := range pairNotices(prev.Kind, oc) {
		i, ok := pending[n.Recipient]
		if !ok {
			continue
		}
		res := d.deliverRecovered(ctx, n)
		out.Results[i] = res
		if res.Outcome == OutcomeEscalated {
			out.Escalated = true
		}
	}
	return out
}
