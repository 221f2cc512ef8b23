package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rebooked/marketplace/app/models"
)

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var rows []models.Notification
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

type activityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Log(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Record(ctx context.Context, ev *models.WebhookEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if ev.Outcome == "" {
		ev.Outcome = models.WebhookOutcomeReceived
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *webhookEventRepository) MarkOutcome(ctx context.Context, id uint, outcome, processingError string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"outcome":          outcome,
			"processing_error": processingError,
			"processed_at":     at,
		}).Error
}

func (r *webhookEventRepository) ListByReference(ctx context.Context, ref string) ([]models.WebhookEvent, error) {
	var rows []models.WebhookEvent
	err := r.db.WithContext(ctx).Where("reference = ?", ref).Order("id ASC").Find(&rows).Error
	return rows, err
}

// commitmentRepository writes the legacy sale_commitments table
type commitmentRepository struct {
	db *gorm.DB
}

func NewCommitmentRepository(db *gorm.DB) CommitmentRepository {
	return &commitmentRepository{db: db}
}

func (r *commitmentRepository) Upsert(ctx context.Context, c *models.SaleCommitment) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "payment_status", "updated_at"}),
	}).Create(c).Error
}

func (r *commitmentRepository) UpdateStatus(ctx context.Context, orderID, status string) error {
	return r.db.WithContext(ctx).Model(&models.SaleCommitment{}).
		Where("order_id = ?", orderID).
		Update("status", status).Error
}
