package commitment

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/internal/pkg/notify"
)

type ExpiryStats struct {
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ExpireOverdue moves pending orders past their deadline to expired. An
// order committed or declined in the meantime loses the conditional write
// and is skipped.
func (s *Service) ExpireOverdue(ctx context.Context, limit int) (ExpiryStats, error) {
	var stats ExpiryStats
	if limit <= 0 {
		limit = 100
	}
	orders, err := s.repos.Order.ListOverdue(ctx, s.now(), limit)
	if err != nil {
		return stats, err
	}

	for i := range orders {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		order := &orders[i]
		ok, err := s.repos.Order.TransitionStatus(ctx, order.ID, models.OrderStatusPendingCommit, models.OrderStatusExpired, nil)
		if err != nil {
			log.Errorf("[Commit] Expiring order %s failed: %v", order.ID, err)
			stats.Failed++
			s.notifier.Escalate(context.WithoutCancel(ctx), notify.Escalation{
				Kind:        "expiry_failed",
				ReferenceID: order.ID,
				OrderID:     order.ID,
				SellerID:    order.SellerID,
				Reason:      err.Error(),
				At:          s.now(),
			})
			continue
		}
		if !ok {
			stats.Skipped++
			continue
		}
		order.Status = models.OrderStatusExpired
		stats.Expired++

		reason := "Seller did not commit before " + order.CommitDeadline.UTC().Format("2006-01-02 15:04 MST")
		s.closeOrder(ctx, order, notify.KindExpired, reason)
		s.notifyParties(context.WithoutCancel(ctx), order, models.NotificationExpired,
			notify.InApp{Title: "Order expired", Message: "The seller did not confirm your order for " + order.PrimaryItem().Title + " in time. You will be refunded."},
			notify.InApp{Title: "Sale expired", Message: "You did not commit to the sale of " + order.PrimaryItem().Title + " in time."},
		)
		s.activity(context.WithoutCancel(ctx), order.SellerID, "expire", order.ID, datatypes.JSONMap{"commit_deadline": order.CommitDeadline})
	}

	if stats.Expired > 0 || stats.Failed > 0 {
		log.Infof("[Commit] Expired %d overdue order(s), skipped %d, failed %d", stats.Expired, stats.Skipped, stats.Failed)
	}
	return stats, nil
}
