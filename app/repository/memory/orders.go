package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
)

type orderRepo struct{ s *Store }

func (r orderRepo) Create(_ context.Context, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailOrderCreate != nil {
		if err := r.s.FailOrderCreate(o); err != nil {
			return err
		}
	}
	for _, existing := range r.s.orders {
		if existing.PaymentReference == o.PaymentReference {
			return gorm.ErrDuplicatedKey
		}
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	r.s.orders[o.ID] = *o
	return nil
}

func (r orderRepo) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &o, nil
}

func (r orderRepo) GetByPaymentReference(_ context.Context, ref string) (*models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.PaymentReference == ref {
			return &o, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r orderRepo) TransitionStatus(_ context.Context, id string, from, to models.OrderStatus, updates repository.OrderUpdates) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailTransition != nil {
		if err := r.s.FailTransition(id, to); err != nil {
			return false, err
		}
	}
	o, ok := r.s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if err := applyOrderUpdates(&o, updates); err != nil {
		return false, err
	}
	o.UpdatedAt = time.Now()
	r.s.orders[id] = o
	return true, nil
}

// applyOrderUpdates maps the column names used by the services onto fields.
func applyOrderUpdates(o *models.Order, updates repository.OrderUpdates) error {
	for k, v := range updates {
		switch k {
		case "committed_at":
			t := v.(time.Time)
			o.CommittedAt = &t
		case "declined_at":
			t := v.(time.Time)
			o.DeclinedAt = &t
		case "delivered_at":
			t := v.(time.Time)
			o.DeliveredAt = &t
		case "decline_reason":
			o.DeclineReason = v.(string)
		case "payment_status":
			o.PaymentStatus = v.(models.PaymentStatus)
		case "delivery_status":
			o.DeliveryStatus = v.(string)
		case "delivery_data":
			o.DeliveryData = v.(datatypes.JSONType[models.DeliveryData])
		default:
			return fmt.Errorf("memory: unsupported order column %q", k)
		}
	}
	return nil
}

func (r orderRepo) UpdatePaymentStatus(_ context.Context, id string, from, to models.PaymentStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || o.PaymentStatus != from {
		return false, nil
	}
	o.PaymentStatus = to
	r.s.orders[id] = o
	return true, nil
}

func (r orderRepo) UpdateDelivery(_ context.Context, id string, deliveryStatus string, data models.DeliveryData) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.DeliveryStatus = deliveryStatus
	o.DeliveryData = datatypes.NewJSONType(data)
	r.s.orders[id] = o
	return nil
}

func (r orderRepo) ListOverdue(_ context.Context, now time.Time, limit int) ([]models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Order
	for _, o := range r.s.orders {
		if o.Status == models.OrderStatusPendingCommit && !o.CommitDeadline.After(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommitDeadline.Before(out[j].CommitDeadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r orderRepo) ListDeliveredBySeller(_ context.Context, sellerID string) ([]models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Order
	for _, o := range r.s.orders {
		if o.SellerID == sellerID && o.Status == models.OrderStatusDelivered && o.DeliveryStatus == models.DeliveryStatusDelivered {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r orderRepo) ClaimForTransfer(_ context.Context, ids []string, transferRef string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		o, ok := r.s.orders[id]
		if !ok || o.Status != models.OrderStatusDelivered || o.PaymentStatus != models.PaymentStatusPaid || o.TransferReference != nil {
			continue
		}
		ref := transferRef
		o.TransferReference = &ref
		r.s.orders[id] = o
		n++
	}
	return n, nil
}

func (r orderRepo) ListByTransfer(_ context.Context, transferRef string) ([]models.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Order
	for _, o := range r.s.orders {
		if o.TransferReference != nil && *o.TransferReference == transferRef {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r orderRepo) ReleaseTransfer(_ context.Context, transferRef string) (int64, error) {
	return r.eachTransferOrder(transferRef, func(o *models.Order) { o.PaymentStatus = models.PaymentStatusReleased }), nil
}

func (r orderRepo) UnclaimTransfer(_ context.Context, transferRef string) (int64, error) {
	return r.eachTransferOrder(transferRef, func(o *models.Order) { o.TransferReference = nil }), nil
}

func (r orderRepo) eachTransferOrder(transferRef string, fn func(o *models.Order)) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, o := range r.s.orders {
		if o.TransferReference == nil || *o.TransferReference != transferRef || o.PaymentStatus != models.PaymentStatusPaid {
			continue
		}
		fn(&o)
		r.s.orders[id] = o
		n++
	}
	return n
}

type transactionRepo struct{ s *Store }

func (r transactionRepo) Create(_ context.Context, tx *models.PaymentTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.transactions[tx.Reference]; ok {
		return gorm.ErrDuplicatedKey
	}
	tx.ID = r.s.id()
	if tx.Status == "" {
		tx.Status = models.TransactionStatusPending
	}
	r.s.transactions[tx.Reference] = *tx
	return nil
}

func (r transactionRepo) GetByReference(_ context.Context, ref string) (*models.PaymentTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.transactions[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &tx, nil
}

func (r transactionRepo) ClaimWebhook(_ context.Context, ref string, at time.Time, payload string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailClaimWebhook != nil {
		if err := r.s.FailClaimWebhook(ref); err != nil {
			return false, err
		}
	}
	tx, ok := r.s.transactions[ref]
	if !ok || tx.WebhookProcessedAt != nil {
		return false, nil
	}
	tx.Status = models.TransactionStatusSuccess
	tx.WebhookProcessedAt = &at
	tx.ProviderWebhookData = payload
	r.s.transactions[ref] = tx
	return true, nil
}

func (r transactionRepo) ReleaseWebhook(_ context.Context, ref string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.transactions[ref]
	if !ok {
		return nil
	}
	tx.WebhookProcessedAt = nil
	r.s.transactions[ref] = tx
	return nil
}

func (r transactionRepo) MarkFailed(_ context.Context, ref string, payload string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.transactions[ref]
	if !ok || tx.Status == models.TransactionStatusSuccess {
		return false, nil
	}
	tx.Status = models.TransactionStatusFailed
	tx.ProviderWebhookData = payload
	r.s.transactions[ref] = tx
	return true, nil
}

type transferRepo struct{ s *Store }

func (r transferRepo) Create(_ context.Context, t *models.Transfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.transfers[t.Reference]; ok {
		return gorm.ErrDuplicatedKey
	}
	t.ID = r.s.id()
	r.s.transfers[t.Reference] = *t
	return nil
}

func (r transferRepo) GetByReference(_ context.Context, ref string) (*models.Transfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transfers[ref]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &t, nil
}

func (r transferRepo) SetTransferCode(_ context.Context, ref, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transfers[ref]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	t.TransferCode = code
	r.s.transfers[ref] = t
	return nil
}

func (r transferRepo) Settle(_ context.Context, ref, status, reason string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transfers[ref]
	if !ok || t.WebhookProcessedAt != nil {
		return false, nil
	}
	t.Status = status
	t.FailureReason = reason
	t.WebhookProcessedAt = &at
	r.s.transfers[ref] = t
	return true, nil
}

func (r transferRepo) MarkFailed(_ context.Context, ref, reason string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transfers[ref]
	if !ok || t.Status != models.TransferStatusPending || t.WebhookProcessedAt != nil {
		return false, nil
	}
	t.Status = models.TransferStatusFailed
	t.FailureReason = reason
	r.s.transfers[ref] = t
	return true, nil
}

func (r transferRepo) NoteFailure(_ context.Context, ref, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transfers[ref]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if t.WebhookProcessedAt == nil {
		t.FailureReason = reason
		r.s.transfers[ref] = t
	}
	return nil
}

type bankingRepo struct{ s *Store }

func (r bankingRepo) Create(_ context.Context, b *models.BankingSubaccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.banking[b.UserID]; ok {
		return gorm.ErrDuplicatedKey
	}
	b.ID = r.s.id()
	if b.Status == "" {
		b.Status = models.BankingStatusPending
	}
	r.s.banking[b.UserID] = *b
	return nil
}

func (r bankingRepo) GetByUserID(_ context.Context, userID string) (*models.BankingSubaccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.banking[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &b, nil
}

func (r bankingRepo) SetRecipientCode(_ context.Context, userID, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.banking[userID]
	if !ok || b.RecipientCode != "" {
		return false, nil
	}
	b.RecipientCode = code
	b.Status = models.BankingStatusActive
	r.s.banking[userID] = b
	r.s.RecipientWrites++
	return true, nil
}

type mailRepo struct{ s *Store }

func (r mailRepo) Enqueue(_ context.Context, m *models.MailQueue) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailMailEnqueue != nil {
		if err := r.s.FailMailEnqueue(m); err != nil {
			return err
		}
	}
	if m.Status == "" {
		m.Status = models.MailStatusPending
	}
	if m.Priority == "" {
		m.Priority = models.MailPriorityNormal
	}
	m.ID = r.s.id()
	now := time.Now()
	m.CreatedAt, m.UpdatedAt = now, now
	r.s.mail[m.ID] = *m
	return nil
}

func (r mailRepo) GetByID(_ context.Context, id uint) (*models.MailQueue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mail[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &m, nil
}

func (r mailRepo) ListPending(_ context.Context, limit int) ([]models.MailQueue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.MailQueue
	for _, m := range r.s.mail {
		if m.Status == models.MailStatusPending {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r mailRepo) Claim(_ context.Context, id uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mail[id]
	if !ok || m.Status != models.MailStatusPending {
		return false, nil
	}
	m.Status = models.MailStatusSending
	m.UpdatedAt = time.Now()
	r.s.mail[id] = m
	return true, nil
}

func (r mailRepo) MarkSent(_ context.Context, id uint, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mail[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	m.Status = models.MailStatusSent
	m.SentAt = &at
	m.ErrorMessage = ""
	r.s.mail[id] = m
	return nil
}

func (r mailRepo) MarkFailed(_ context.Context, id uint, msg string, maxRetries int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mail[id]
	if !ok || m.Status != models.MailStatusSending {
		return nil
	}
	m.RetryCount++
	m.ErrorMessage = msg
	if m.RetryCount >= maxRetries {
		m.Status = models.MailStatusFailed
	} else {
		m.Status = models.MailStatusPending
	}
	m.UpdatedAt = time.Now()
	r.s.mail[id] = m
	return nil
}

func (r mailRepo) ReleaseStale(_ context.Context, olderThan time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, m := range r.s.mail {
		if m.Status == models.MailStatusSending && m.UpdatedAt.Before(olderThan) {
			m.Status = models.MailStatusPending
			r.s.mail[id] = m
			n++
		}
	}
	return n, nil
}

func (r mailRepo) List(_ context.Context, status models.MailStatus, limit int) ([]models.MailQueue, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.MailQueue
	for _, m := range r.s.mail {
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r mailRepo) Retry(_ context.Context, id uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mail[id]
	if !ok || m.Status != models.MailStatusFailed {
		return false, nil
	}
	m.Status = models.MailStatusPending
	m.RetryCount = 0
	r.s.mail[id] = m
	return true, nil
}
