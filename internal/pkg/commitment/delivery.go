package commitment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/notify"
)

// DeliveryEvent is a courier progress update.
type DeliveryEvent struct {
	Status         string    `json:"status"`
	TrackingNumber string    `json:"tracking_number"`
	At             time.Time `json:"at"`
}

// RecordDelivery applies a courier event to a committed order. The
// delivered event moves the order to delivered, which makes it eligible for
// payout. Repeating an event is harmless.
func (s *Service) RecordDelivery(ctx context.Context, orderID string, ev DeliveryEvent) (*models.Order, error) {
	switch ev.Status {
	case models.DeliveryStatusCollected, models.DeliveryStatusInTransit, models.DeliveryStatusDelivered:
	default:
		return nil, apperr.New(apperr.CodeInvalidDeliveryStatus, http.StatusBadRequest, "Unknown delivery status").
			WithDetail("status", ev.Status)
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}

	order, err := s.repos.Order.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrOrderNotFound.WithDetail("order_id", orderID)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, http.StatusInternalServerError, "Internal server error").Wrap(err)
	}
	if order.Status == models.OrderStatusDelivered {
		return order, nil
	}
	if order.Status != models.OrderStatusCommitted {
		return nil, apperr.ErrInvalidOrderState.WithDetail("status", string(order.Status))
	}

	data := order.DeliveryData.Data()
	if ev.TrackingNumber != "" {
		data.TrackingNumber = ev.TrackingNumber
	}
	at := ev.At
	switch ev.Status {
	case models.DeliveryStatusCollected:
		data.CollectedAt = &at
	case models.DeliveryStatusDelivered:
		if data.CollectedAt == nil {
			data.CollectedAt = &at
		}
		data.DeliveredAt = &at
	}

	if ev.Status != models.DeliveryStatusDelivered {
		if err := s.repos.Order.UpdateDelivery(ctx, order.ID, ev.Status, data); err != nil {
			return nil, apperr.New(apperr.CodeInternal, http.StatusInternalServerError, "Internal server error").Wrap(err)
		}
		order.DeliveryStatus = ev.Status
		order.DeliveryData = datatypes.NewJSONType(data)
		log.Infof("[Commit] Order %s delivery status %s", order.ID, ev.Status)
		return order, nil
	}

	ok, err := s.repos.Order.TransitionStatus(ctx, order.ID, models.OrderStatusCommitted, models.OrderStatusDelivered, repository.OrderUpdates{
		"delivered_at":    at,
		"delivery_status": models.DeliveryStatusDelivered,
		"delivery_data":   datatypes.NewJSONType(data),
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, http.StatusInternalServerError, "Internal server error").Wrap(err)
	}
	if !ok {
		current, err := s.repos.Order.GetByID(ctx, order.ID)
		if err == nil && current.Status == models.OrderStatusDelivered {
			return current, nil
		}
		return nil, apperr.ErrInvalidOrderState.WithDetail("order_id", order.ID)
	}
	order.Status = models.OrderStatusDelivered
	order.DeliveredAt = &at
	order.DeliveryStatus = models.DeliveryStatusDelivered
	order.DeliveryData = datatypes.NewJSONType(data)
	log.Infof("[Commit] Order %s delivered", order.ID)

	bg := context.WithoutCancel(ctx)
	s.notifyParties(bg, order, models.NotificationDelivery,
		notify.InApp{Title: "Order delivered", Message: order.PrimaryItem().Title + " has been delivered."},
		notify.InApp{Title: "Delivery complete", Message: order.PrimaryItem().Title + " was delivered. Your payout will follow."},
	)
	s.mirror(bg, order.ID, models.CommitmentStatusCompleted)
	s.activity(bg, order.SellerID, "delivered", order.ID, datatypes.JSONMap{"tracking_number": data.TrackingNumber})
	return order, nil
}
