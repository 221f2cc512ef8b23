package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("payment_reference = ?", ref).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus, updates OrderUpdates) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	return res.RowsAffected == 1, res.Error
}

func (r *orderRepository) UpdatePaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", id, from).
		Update("payment_status", to)
	return res.RowsAffected == 1, res.Error
}

func (r *orderRepository) UpdateDelivery(ctx context.Context, id string, deliveryStatus string, data models.DeliveryData) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delivery_status": deliveryStatus,
			"delivery_data":   datatypes.NewJSONType(data),
		}).Error
}

func (r *orderRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND commit_deadline <= ?", models.OrderStatusPendingCommit, now).
		Order("commit_deadline ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) ListDeliveredBySeller(ctx context.Context, sellerID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND status = ? AND delivery_status = ?", sellerID, models.OrderStatusDelivered, models.DeliveryStatusDelivered).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) ClaimForTransfer(ctx context.Context, ids []string, transferRef string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id IN ? AND status = ? AND payment_status = ? AND transfer_reference IS NULL",
			ids, models.OrderStatusDelivered, models.PaymentStatusPaid).
		Update("transfer_reference", transferRef)
	return res.RowsAffected, res.Error
}

func (r *orderRepository) ListByTransfer(ctx context.Context, transferRef string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).Where("transfer_reference = ?", transferRef).Find(&orders).Error
	return orders, err
}

func (r *orderRepository) ReleaseTransfer(ctx context.Context, transferRef string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("transfer_reference = ? AND payment_status = ?", transferRef, models.PaymentStatusPaid).
		Update("payment_status", models.PaymentStatusReleased)
	return res.RowsAffected, res.Error
}

func (r *orderRepository) UnclaimTransfer(ctx context.Context, transferRef string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("transfer_reference = ? AND payment_status = ?", transferRef, models.PaymentStatusPaid).
		Update("transfer_reference", nil)
	return res.RowsAffected, res.Error
}
