package repository

import (
	"context"
	"time"

	"github.com/rebooked/marketplace/app/models"
)

// Conditional writes return (applied bool, err). applied=false with a nil
// error means the guard did not match: somebody else won.

// BookRepository defines the book listing operations the order core needs
type BookRepository interface {
	Create(ctx context.Context, book *models.Book) error
	GetByID(ctx context.Context, id string) (*models.Book, error)
	// GetAvailable loads an unsold book owned by sellerID.
	GetAvailable(ctx context.Context, id, sellerID string) (*models.Book, error)
	// MarkSold sets sold=true where sold=false.
	MarkSold(ctx context.Context, id string) (bool, error)
	// Relist sets sold=false where sold=true.
	Relist(ctx context.Context, id string) (bool, error)
}

type ProfileRepository interface {
	Create(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
}

// OrderUpdates are extra columns written together with a status transition.
type OrderUpdates map[string]any

// OrderRepository defines the interface for order persistence
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	// TransitionStatus moves an order from one status to another and applies
	// updates in the same conditional statement.
	TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus, updates OrderUpdates) (bool, error)
	UpdatePaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus) (bool, error)
	UpdateDelivery(ctx context.Context, id string, deliveryStatus string, data models.DeliveryData) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	ListDeliveredBySeller(ctx context.Context, sellerID string) ([]models.Order, error)
	// ClaimForTransfer stamps transfer_reference on delivered, paid orders
	// that have none yet and returns the number claimed.
	ClaimForTransfer(ctx context.Context, ids []string, transferRef string) (int64, error)
	ListByTransfer(ctx context.Context, transferRef string) ([]models.Order, error)
	ReleaseTransfer(ctx context.Context, transferRef string) (int64, error)
	UnclaimTransfer(ctx context.Context, transferRef string) (int64, error)
}

// TransactionRepository defines payment transaction persistence
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.PaymentTransaction) error
	GetByReference(ctx context.Context, ref string) (*models.PaymentTransaction, error)
	// ClaimWebhook marks the transaction successful and stamps
	// webhook_processed_at, only if it was not stamped before.
	ClaimWebhook(ctx context.Context, ref string, at time.Time, payload string) (bool, error)
	// ReleaseWebhook clears the stamp so a retried delivery can run again.
	ReleaseWebhook(ctx context.Context, ref string) error
	// MarkFailed never overwrites a successful transaction.
	MarkFailed(ctx context.Context, ref string, payload string) (bool, error)
}

type TransferRepository interface {
	Create(ctx context.Context, t *models.Transfer) error
	GetByReference(ctx context.Context, ref string) (*models.Transfer, error)
	SetTransferCode(ctx context.Context, ref, code string) error
	// Settle sets the final status and stamps webhook_processed_at once.
	Settle(ctx context.Context, ref, status, reason string, at time.Time) (bool, error)
	// MarkFailed fails a pending transfer the provider never accepted. It
	// leaves webhook_processed_at unset so a later provider event still
	// settles it.
	MarkFailed(ctx context.Context, ref, reason string) (bool, error)
	// NoteFailure records an error on a transfer that stays pending.
	NoteFailure(ctx context.Context, ref, reason string) error
}

type BankingRepository interface {
	Create(ctx context.Context, b *models.BankingSubaccount) error
	GetByUserID(ctx context.Context, userID string) (*models.BankingSubaccount, error)
	// SetRecipientCode writes the code only while none is stored and marks
	// the record active.
	SetRecipientCode(ctx context.Context, userID, code string) (bool, error)
}

// MailQueueRepository defines the durable email queue
type MailQueueRepository interface {
	Enqueue(ctx context.Context, m *models.MailQueue) error
	GetByID(ctx context.Context, id uint) (*models.MailQueue, error)
	// ListPending returns pending rows by priority, oldest first.
	ListPending(ctx context.Context, limit int) ([]models.MailQueue, error)
	// Claim moves a row pending->sending so only one consumer sends it.
	Claim(ctx context.Context, id uint) (bool, error)
	MarkSent(ctx context.Context, id uint, at time.Time) error
	// MarkFailed bumps retry_count and returns the row to pending until
	// maxRetries is reached, then leaves it failed.
	MarkFailed(ctx context.Context, id uint, msg string, maxRetries int) error
	// ReleaseStale returns rows stuck in sending for longer than olderThan.
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
	List(ctx context.Context, status models.MailStatus, limit int) ([]models.MailQueue, error)
	// Retry resets a failed row to pending.
	Retry(ctx context.Context, id uint) (bool, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

type ActivityRepository interface {
	Log(ctx context.Context, entry *models.ActivityLog) error
}

type WebhookEventRepository interface {
	Record(ctx context.Context, ev *models.WebhookEvent) error
	MarkOutcome(ctx context.Context, id uint, outcome, processingError string, at time.Time) error
	ListByReference(ctx context.Context, ref string) ([]models.WebhookEvent, error)
}

// CommitmentRepository writes the legacy sale_commitments mirror.
type CommitmentRepository interface {
	Upsert(ctx context.Context, c *models.SaleCommitment) error
	UpdateStatus(ctx context.Context, orderID, status string) error
}

// QueueRepository inspects the Redis job queue for the admin screens
type QueueRepository interface {
	GetListLength(key string) (int64, error)
	GetListRange(key string, start, stop int64) ([]string, error)
	FindKeysByPatterns(patterns []string) ([]string, error)
	GetValue(key string) (string, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Book         BookRepository
	Profile      ProfileRepository
	Order        OrderRepository
	Transaction  TransactionRepository
	Transfer     TransferRepository
	Banking      BankingRepository
	MailQueue    MailQueueRepository
	Notification NotificationRepository
	Activity     ActivityRepository
	WebhookEvent WebhookEventRepository
	// Commitment is nil when the legacy table does not exist.
	Commitment CommitmentRepository
	Queue      QueueRepository
}
