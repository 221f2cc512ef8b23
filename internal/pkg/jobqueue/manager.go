package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/rebooked/marketplace/internal/pkg/commitment"
	"github.com/rebooked/marketplace/internal/pkg/env"
	"github.com/rebooked/marketplace/internal/pkg/notify"
)

type RefundProcessor interface {
	ProcessRefund(ctx context.Context, orderID string) error
}

type Expirer interface {
	ExpireOverdue(ctx context.Context, limit int) (commitment.ExpiryStats, error)
}

type MailRedeliverer interface {
	Redeliver(ctx context.Context, limit, maxRetries int, staleAfter time.Duration) (notify.RedeliveryStats, error)
	Escalate(ctx context.Context, e notify.Escalation) bool
}

// Config tunes the manager's workers and sweep intervals.
type Config struct {
	Workers        int
	MailInterval   time.Duration
	MailBatch      int
	MailMaxRetries int
	MailStaleAfter time.Duration
	ExpiryInterval time.Duration
	ExpiryBatch    int
}

// ConfigFromEnv reads JOBQUEUE_* settings with sane defaults. The mail
// stale window is kept at or above notify.MinStaleAfter(sendTimeout) so a
// slow send is never released to a second consumer.
func ConfigFromEnv(mailMaxRetries int, sendTimeout time.Duration) Config {
	stale := time.Duration(env.GetEnvInt("JOBQUEUE_MAIL_STALE_SECONDS", 900)) * time.Second
	if floor := notify.MinStaleAfter(sendTimeout); stale < floor {
		log.Warnf("[JobQueue Manager] Mail stale window %s is below %s, using %s", stale, floor, floor)
		stale = floor
	}
	return Config{
		Workers:        env.GetEnvInt("JOBQUEUE_WORKERS", 4),
		MailInterval:   time.Duration(env.GetEnvInt("JOBQUEUE_MAIL_INTERVAL_SECONDS", 60)) * time.Second,
		MailBatch:      env.GetEnvInt("JOBQUEUE_MAIL_BATCH", 50),
		MailMaxRetries: mailMaxRetries,
		MailStaleAfter: stale,
		ExpiryInterval: time.Duration(env.GetEnvInt("JOBQUEUE_EXPIRY_INTERVAL_SECONDS", 300)) * time.Second,
		ExpiryBatch:    env.GetEnvInt("JOBQUEUE_EXPIRY_BATCH", 100),
	}
}

// Manager owns the job queue and the periodic sweeps around it.
type Manager struct {
	queue   *Queue
	cfg     Config
	refunds RefundProcessor
	expirer Expirer
	mail    MailRedeliverer

	mailTicker   *time.Ticker
	expiryTicker *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

// NewManager registers the marketplace handlers on queue. A nil queue is
// created on the shared cache client.
func NewManager(queue *Queue, cfg Config, refunds RefundProcessor, expirer Expirer, mail MailRedeliverer) *Manager {
	if cfg.MailInterval <= 0 {
		cfg.MailInterval = time.Minute
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = 5 * time.Minute
	}
	if cfg.MailBatch <= 0 {
		cfg.MailBatch = 50
	}
	if cfg.ExpiryBatch <= 0 {
		cfg.ExpiryBatch = 100
	}
	if cfg.MailMaxRetries <= 0 {
		cfg.MailMaxRetries = 3
	}

	if queue == nil {
		queue = NewQueue(nil, cfg.Workers)
	}

	m := &Manager{
		queue:   queue,
		cfg:     cfg,
		refunds: refunds,
		expirer: expirer,
		mail:    mail,
		stopCh:  make(chan struct{}),
	}
	m.queue.Register(JobTypeOrderRefund, m.handleRefund)
	m.queue.Register(JobTypeMailDelivery, m.handleMailDelivery)
	m.queue.OnFailed(m.jobFailed)
	return m
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.mailTicker = time.NewTicker(m.cfg.MailInterval)
	m.wg.Add(1)
	go m.sweep("mail redelivery", m.mailTicker, m.RunMailSweepOnce)

	m.expiryTicker = time.NewTicker(m.cfg.ExpiryInterval)
	m.wg.Add(1)
	go m.sweep("commit expiry", m.expiryTicker, m.RunExpirySweepOnce)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.mailTicker != nil {
		m.mailTicker.Stop()
	}
	if m.expiryTicker != nil {
		m.expiryTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) sweep(name string, ticker *time.Ticker, run func(context.Context) error) {
	defer m.wg.Done()
	stop := m.stopCh
	log.Infof("[JobQueue Manager] Started %s worker", name)
	for {
		select {
		case <-stop:
			log.Infof("[JobQueue Manager] %s worker stopping", name)
			return
		case <-ticker.C:
			if err := run(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] %s sweep error: %v", name, err)
			}
		}
	}
}

// RunMailSweepOnce sends pending MailQueue rows once.
func (m *Manager) RunMailSweepOnce(ctx context.Context) error {
	if m.mail == nil {
		return nil
	}
	_, err := m.mail.Redeliver(ctx, m.cfg.MailBatch, m.cfg.MailMaxRetries, m.cfg.MailStaleAfter)
	return err
}

// RunExpirySweepOnce expires orders past their commit deadline once.
func (m *Manager) RunExpirySweepOnce(ctx context.Context) error {
	if m.expirer == nil {
		return nil
	}
	stats, err := m.expirer.ExpireOverdue(ctx, m.cfg.ExpiryBatch)
	if stats.Expired > 0 {
		log.Infof("[JobQueue Manager] Expired %d overdue orders (%d skipped)", stats.Expired, stats.Skipped)
	}
	return err
}

func (m *Manager) handleRefund(ctx context.Context, job *Job) error {
	p, err := RefundJobPayloadFromMap(job.Payload)
	if err != nil {
		return Permanent(err)
	}
	if p.OrderID == "" {
		return Permanent(errors.New("refund job without order_id"))
	}
	err = m.refunds.ProcessRefund(ctx, p.OrderID)
	if err == nil || errors.Is(err, commitment.ErrRetryRefund) {
		return err
	}
	// Anything else was already handed to operations by the refund flow.
	return Permanent(err)
}

func (m *Manager) handleMailDelivery(ctx context.Context, job *Job) error {
	p, err := MailDeliveryJobPayloadFromMap(job.Payload)
	if err != nil {
		return Permanent(err)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = m.cfg.MailBatch
	}
	stats, err := m.mail.Redeliver(ctx, limit, m.cfg.MailMaxRetries, m.cfg.MailStaleAfter)
	if err != nil {
		return err
	}
	if p.MailID != 0 {
		log.Infof("[JobQueue Manager] Retry of mail %d: sent=%d failed=%d", p.MailID, stats.Sent, stats.Failed)
	}
	return nil
}

func (m *Manager) jobFailed(ctx context.Context, job *Job, err error) {
	if job.Type != JobTypeOrderRefund || m.mail == nil || !errors.Is(err, commitment.ErrRetryRefund) {
		return
	}
	p, _ := RefundJobPayloadFromMap(job.Payload)
	orderID := ""
	if p != nil {
		orderID = p.OrderID
	}
	m.mail.Escalate(context.WithoutCancel(ctx), notify.Escalation{
		Kind:        "manual_refund",
		ReferenceID: orderID,
		OrderID:     orderID,
		Reason:      fmt.Sprintf("refund retries exhausted after %d attempts: %v", job.RetryCount, err),
	})
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
