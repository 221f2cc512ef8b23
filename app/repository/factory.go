package repository

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
)

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB, rdb *redis.Client) *Repositories {
	repos := &Repositories{
		Book:         NewBookRepository(db),
		Profile:      NewProfileRepository(db),
		Order:        NewOrderRepository(db),
		Transaction:  NewTransactionRepository(db),
		Transfer:     NewTransferRepository(db),
		Banking:      NewBankingRepository(db),
		MailQueue:    NewMailQueueRepository(db),
		Notification: NewNotificationRepository(db),
		Activity:     NewActivityRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
	if rdb != nil {
		repos.Queue = NewQueueRepository(rdb)
	}

	// The legacy commitment mirror is optional; decide once at startup.
	if db.Migrator().HasTable(&models.SaleCommitment{}) {
		repos.Commitment = NewCommitmentRepository(db)
		log.Info("[Repository] sale_commitments table found, legacy mirror enabled")
	} else {
		log.Info("[Repository] sale_commitments table absent, legacy mirror disabled")
	}
	return repos
}

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	rdb   *redis.Client
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB, rdb *redis.Client) *Factory {
	return &Factory{db: db, rdb: rdb}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db, f.rdb)
	})
	return f.repos
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB, rdb *redis.Client) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db, rdb)
	})
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory.GetRepositories()
}
