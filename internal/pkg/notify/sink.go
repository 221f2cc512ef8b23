package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Escalation is the structured event emitted when a side effect could not be
// delivered or queued normally and a human has to look at it.
type Escalation struct {
	Kind        string    `json:"kind"`
	ReferenceID string    `json:"reference_id"`
	OrderID     string    `json:"order_id,omitempty"`
	SellerID    string    `json:"seller_id,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// Sink receives escalations. Implementations must be safe for concurrent use.
type Sink interface {
	Escalate(ctx context.Context, e Escalation) error
}

// LogSink writes escalations to the application log.
type LogSink struct{}

func (LogSink) Escalate(_ context.Context, e Escalation) error {
	log.Errorw("[Notify] escalation",
		"kind", e.Kind,
		"reference_id", e.ReferenceID,
		"order_id", e.OrderID,
		"seller_id", e.SellerID,
		"recipient", e.Recipient,
		"reason", e.Reason,
		"at", e.At.Format(time.RFC3339),
	)
	return nil
}

// EscalationListKey holds the most recent escalations for the admin screen.
const EscalationListKey = "notify:escalations"

const escalationListMax = 1000

// RedisSink pushes escalations onto a capped Redis list.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Escalate(ctx context.Context, e Escalation) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, EscalationListKey, raw)
	pipe.LTrim(ctx, EscalationListKey, 0, escalationListMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Escalate(ctx context.Context, e Escalation) error {
	var errs []error
	for _, s := range m {
		if err := s.Escalate(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
