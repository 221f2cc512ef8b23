package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/app/repository"
	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/jobqueue"
	"github.com/rebooked/marketplace/internal/pkg/notify"
)

// ============================================================================
// ADMIN QUEUE CONTROLLER - Repository Pattern
// ============================================================================

// OutcomeSnapshot reads one outcome tally.
type OutcomeSnapshot interface {
	Key() string
	Snapshot(ctx context.Context) (map[string]int64, error)
}

type JobQueue interface {
	GetStats(ctx context.Context) (*jobqueue.Stats, error)
	EnqueueMailDelivery(ctx context.Context, p jobqueue.MailDeliveryJobPayload) (*jobqueue.Job, error)
}

// AdminQueueController exposes the mail queue, job queue and escalation feed to operators
type AdminQueueController struct {
	queueRepo repository.QueueRepository
	mailRepo  repository.MailQueueRepository
	jobs      JobQueue
	outcomes  []OutcomeSnapshot
}

func NewAdminQueueController(queueRepo repository.QueueRepository, mailRepo repository.MailQueueRepository, jobs JobQueue) *AdminQueueController {
	return &AdminQueueController{
		queueRepo: queueRepo,
		mailRepo:  mailRepo,
		jobs:      jobs,
	}
}

func (aqc *AdminQueueController) WithOutcomes(o ...OutcomeSnapshot) *AdminQueueController {
	aqc.outcomes = append(aqc.outcomes, o...)
	return aqc
}

const (
	CodeMailNotRetryable = "MAIL_NOT_RETRYABLE"
	CodeMailNotFound     = "MAIL_NOT_FOUND"
	CodeQueueUnavailable = "QUEUE_UNAVAILABLE"
)

func limitParam(c *fiber.Ctx, def, max int) int {
	n := c.QueryInt("limit", def)
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// HandleListMailQueue lists MailQueue rows, optionally filtered by status.
func (aqc *AdminQueueController) HandleListMailQueue(c *fiber.Ctx) error {
	status := models.MailStatus(strings.TrimSpace(c.Query("status")))
	rows, err := aqc.mailRepo.List(c.UserContext(), status, limitParam(c, 50, 500))
	if err != nil {
		return sendError(c, "Admin", err)
	}
	return sendOK(c, fiber.Map{"items": rows, "count": len(rows)})
}

// HandleRetryMail puts a failed row back to pending and triggers a delivery pass.
func (aqc *AdminQueueController) HandleRetryMail(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return sendError(c, "Admin", missingFields("id"))
	}
	ctx := c.UserContext()

	row, err := aqc.mailRepo.GetByID(ctx, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sendError(c, "Admin", apperr.New(CodeMailNotFound, fiber.StatusNotFound, "mail not found"))
		}
		return sendError(c, "Admin", err)
	}

	ok, err := aqc.mailRepo.Retry(ctx, row.ID)
	if err != nil {
		return sendError(c, "Admin", err)
	}
	if !ok {
		return sendError(c, "Admin", apperr.New(CodeMailNotRetryable, fiber.StatusConflict, "only failed mail can be retried").
			WithDetail("status", row.Status))
	}

	body := fiber.Map{"id": row.ID, "status": models.MailStatusPending}
	if aqc.jobs != nil {
		job, err := aqc.jobs.EnqueueMailDelivery(ctx, jobqueue.MailDeliveryJobPayload{MailID: row.ID})
		if err != nil {
			// The periodic sweep will still pick the row up.
			log.Warnf("[Admin] Mail %d reset but delivery job not queued: %v", row.ID, err)
		} else {
			body["job_id"] = job.ID
		}
	}
	return sendOK(c, body)
}

type failedJob struct {
	ID         string           `json:"id"`
	Type       jobqueue.JobType `json:"type"`
	Error      string           `json:"error"`
	RetryCount int              `json:"retry_count"`
}

// HandleJobStats reports queue depths, lifetime counters and the jobs that gave up.
func (aqc *AdminQueueController) HandleJobStats(c *fiber.Ctx) error {
	if aqc.jobs == nil {
		return sendError(c, "Admin", apperr.New(CodeQueueUnavailable, fiber.StatusServiceUnavailable, "job queue not configured"))
	}
	stats, err := aqc.jobs.GetStats(c.UserContext())
	if err != nil {
		return sendError(c, "Admin", err)
	}

	failed, err := aqc.failedJobs(limitParam(c, 50, 500))
	if err != nil {
		log.Warnf("[Admin] Could not list failed jobs: %v", err)
	}
	return sendOK(c, fiber.Map{"stats": stats, "failed_jobs": failed})
}

func (aqc *AdminQueueController) failedJobs(limit int) ([]failedJob, error) {
	out := []failedJob{}
	if aqc.queueRepo == nil {
		return out, nil
	}
	keys, err := aqc.queueRepo.FindKeysByPatterns([]string{jobqueue.JobKeyPrefix + "*"})
	if err != nil {
		return out, err
	}
	for _, key := range keys {
		value, err := aqc.queueRepo.GetValue(key)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return out, err
			}
			continue
		}
		var job jobqueue.Job
		if json.Unmarshal([]byte(value), &job) != nil || job.Status != jobqueue.JobStatusFailed {
			continue
		}
		out = append(out, failedJob{ID: job.ID, Type: job.Type, Error: job.ErrorMsg, RetryCount: job.RetryCount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HandleEscalations returns the most recent escalation events, newest first.
func (aqc *AdminQueueController) HandleEscalations(c *fiber.Ctx) error {
	if aqc.queueRepo == nil {
		return sendError(c, "Admin", apperr.New(CodeQueueUnavailable, fiber.StatusServiceUnavailable, "redis not configured"))
	}
	limit := limitParam(c, 100, 1000)
	raw, err := aqc.queueRepo.GetListRange(notify.EscalationListKey, 0, int64(limit-1))
	if err != nil {
		return sendError(c, "Admin", err)
	}

	items := make([]notify.Escalation, 0, len(raw))
	for _, r := range raw {
		var e notify.Escalation
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		items = append(items, e)
	}
	return sendOK(c, fiber.Map{"items": items, "count": len(items)})
}

// HandleOutcomes returns the webhook and purchase outcome tallies.
func (aqc *AdminQueueController) HandleOutcomes(c *fiber.Ctx) error {
	out := fiber.Map{}
	for _, o := range aqc.outcomes {
		snap, err := o.Snapshot(c.UserContext())
		if err != nil {
			return sendError(c, "Admin", err)
		}
		out[o.Key()] = snap
	}
	return sendOK(c, fiber.Map{"outcomes": out})
}
