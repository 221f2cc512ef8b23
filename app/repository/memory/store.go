// Package memory holds in-process implementations of the repository
// interfaces. They honour the same conditional-write semantics as the GORM
// versions and expose hooks to inject failures in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
)

// Store is a single mutex-guarded dataset. Hooks run with the lock held and
// must not call back into the store.
type Store struct {
	mu sync.Mutex

	books        map[string]models.Book
	profiles     map[string]models.Profile
	orders       map[string]models.Order
	transactions map[string]models.PaymentTransaction
	transfers    map[string]models.Transfer
	banking      map[string]models.BankingSubaccount
	mail         map[uint]models.MailQueue
	notes        []models.Notification
	activity     []models.ActivityLog
	events       map[uint]models.WebhookEvent
	commitments  map[string]models.SaleCommitment
	nextID       uint

	// RecipientWrites counts successful SetRecipientCode calls.
	RecipientWrites int

	FailOrderCreate        func(o *models.Order) error
	FailTransition         func(id string, to models.OrderStatus) error
	FailMailEnqueue        func(m *models.MailQueue) error
	FailNotificationCreate func(n *models.Notification) error
	FailClaimWebhook       func(ref string) error
}

func NewStore() *Store {
	return &Store{
		books:        map[string]models.Book{},
		profiles:     map[string]models.Profile{},
		orders:       map[string]models.Order{},
		transactions: map[string]models.PaymentTransaction{},
		transfers:    map[string]models.Transfer{},
		banking:      map[string]models.BankingSubaccount{},
		mail:         map[uint]models.MailQueue{},
		events:       map[uint]models.WebhookEvent{},
		commitments:  map[string]models.SaleCommitment{},
	}
}

// Repositories wires every repository to s. withCommitments enables the
// legacy mirror.
func (s *Store) Repositories(withCommitments bool) *repository.Repositories {
	repos := &repository.Repositories{
		Book:         bookRepo{s},
		Profile:      profileRepo{s},
		Order:        orderRepo{s},
		Transaction:  transactionRepo{s},
		Transfer:     transferRepo{s},
		Banking:      bankingRepo{s},
		MailQueue:    mailRepo{s},
		Notification: notificationRepo{s},
		Activity:     activityRepo{s},
		WebhookEvent: eventRepo{s},
	}
	if withCommitments {
		repos.Commitment = commitmentRepo{s}
	}
	return repos
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

// Snapshots for assertions.

func (s *Store) Orders() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentReference < out[j].PaymentReference })
	return out
}

func (s *Store) Mail() []models.MailQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MailQueue, 0, len(s.mail))
	for _, m := range s.mail {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.notes...)
}

func (s *Store) Activity() []models.ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ActivityLog(nil), s.activity...)
}

func (s *Store) WebhookEvents() []models.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WebhookEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Commitment(orderID string) (models.SaleCommitment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[orderID]
	return c, ok
}

type bookRepo struct{ s *Store }

func (r bookRepo) Create(_ context.Context, b *models.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if _, ok := r.s.books[b.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	r.s.books[b.ID] = *b
	return nil
}

func (r bookRepo) GetByID(_ context.Context, id string) (*models.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &b, nil
}

func (r bookRepo) GetAvailable(_ context.Context, id, sellerID string) (*models.Book, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok || b.SellerID != sellerID || b.Sold {
		return nil, gorm.ErrRecordNotFound
	}
	return &b, nil
}

func (r bookRepo) MarkSold(_ context.Context, id string) (bool, error) {
	return r.setSold(id, false, true), nil
}

func (r bookRepo) Relist(_ context.Context, id string) (bool, error) {
	return r.setSold(id, true, false), nil
}

func (r bookRepo) setSold(id string, from, to bool) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.books[id]
	if !ok || b.Sold != from {
		return false
	}
	b.Sold = to
	b.UpdatedAt = time.Now()
	r.s.books[id] = b
	return true
}

type profileRepo struct{ s *Store }

func (r profileRepo) Create(_ context.Context, p *models.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	r.s.profiles[p.ID] = *p
	return nil
}

func (r profileRepo) GetByID(_ context.Context, id string) (*models.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

type notificationRepo struct{ s *Store }

func (r notificationRepo) Create(_ context.Context, n *models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailNotificationCreate != nil {
		if err := r.s.FailNotificationCreate(n); err != nil {
			return err
		}
	}
	n.ID = r.s.id()
	n.CreatedAt = time.Now()
	r.s.notes = append(r.s.notes, *n)
	return nil
}

func (r notificationRepo) ListByUser(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Notification
	for i := len(r.s.notes) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.notes[i].UserID == userID {
			out = append(out, r.s.notes[i])
		}
	}
	return out, nil
}

type activityRepo struct{ s *Store }

func (r activityRepo) Log(_ context.Context, e *models.ActivityLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e.ID = r.s.id()
	e.CreatedAt = time.Now()
	r.s.activity = append(r.s.activity, *e)
	return nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) Record(_ context.Context, ev *models.WebhookEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev.ID = r.s.id()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if ev.Outcome == "" {
		ev.Outcome = models.WebhookOutcomeReceived
	}
	r.s.events[ev.ID] = *ev
	return nil
}

func (r eventRepo) MarkOutcome(_ context.Context, id uint, outcome, processingError string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	ev.Outcome = outcome
	ev.ProcessingError = processingError
	ev.ProcessedAt = &at
	r.s.events[id] = ev
	return nil
}

func (r eventRepo) ListByReference(_ context.Context, ref string) ([]models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.WebhookEvent
	for _, ev := range r.s.events {
		if ev.Reference == ref {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type commitmentRepo struct{ s *Store }

func (r commitmentRepo) Upsert(_ context.Context, c *models.SaleCommitment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.commitments[c.OrderID]; ok {
		existing.Status = c.Status
		existing.PaymentStatus = c.PaymentStatus
		r.s.commitments[c.OrderID] = existing
		return nil
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	r.s.commitments[c.OrderID] = *c
	return nil
}

func (r commitmentRepo) UpdateStatus(_ context.Context, orderID, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.commitments[orderID]
	if !ok {
		return nil
	}
	c.Status = status
	r.s.commitments[orderID] = c
	return nil
}
