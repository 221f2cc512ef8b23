package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
)

// mailQueueRepository implements the MailQueueRepository interface
type mailQueueRepository struct {
	db *gorm.DB
}

// NewMailQueueRepository creates a new mail queue repository instance
func NewMailQueueRepository(db *gorm.DB) MailQueueRepository {
	return &mailQueueRepository{db: db}
}

func (r *mailQueueRepository) Enqueue(ctx context.Context, m *models.MailQueue) error {
	if m.Status == "" {
		m.Status = models.MailStatusPending
	}
	if m.Priority == "" {
		m.Priority = models.MailPriorityNormal
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *mailQueueRepository) GetByID(ctx context.Context, id uint) (*models.MailQueue, error) {
	var m models.MailQueue
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mailQueueRepository) ListPending(ctx context.Context, limit int) ([]models.MailQueue, error) {
	var rows []models.MailQueue
	err := r.db.WithContext(ctx).
		Where("status = ?", models.MailStatusPending).
		Order("FIELD(priority, 'urgent', 'high', 'normal', 'low')").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *mailQueueRepository) Claim(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.MailQueue{}).
		Where("id = ? AND status = ?", id, models.MailStatusPending).
		Update("status", models.MailStatusSending)
	return res.RowsAffected == 1, res.Error
}

func (r *mailQueueRepository) MarkSent(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.MailQueue{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.MailStatusSent,
			"sent_at":       at,
			"error_message": "",
		}).Error
}

func (r *mailQueueRepository) MarkFailed(ctx context.Context, id uint, msg string, maxRetries int) error {
	// MySQL evaluates SET left to right; status must read the old retry_count.
	return r.db.WithContext(ctx).Exec(
		"UPDATE mail_queue SET status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END, "+
			"retry_count = retry_count + 1, error_message = ?, updated_at = ? WHERE id = ? AND status = ?",
		maxRetries, models.MailStatusFailed, models.MailStatusPending, msg, time.Now(), id, models.MailStatusSending,
	).Error
}

func (r *mailQueueRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.MailQueue{}).
		Where("status = ? AND updated_at < ?", models.MailStatusSending, olderThan).
		Update("status", models.MailStatusPending)
	return res.RowsAffected, res.Error
}

func (r *mailQueueRepository) List(ctx context.Context, status models.MailStatus, limit int) ([]models.MailQueue, error) {
	var rows []models.MailQueue
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (r *mailQueueRepository) Retry(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.MailQueue{}).
		Where("id = ? AND status = ?", id, models.MailStatusFailed).
		Updates(map[string]any{
			"status":      models.MailStatusPending,
			"retry_count": 0,
		})
	return res.RowsAffected == 1, res.Error
}
