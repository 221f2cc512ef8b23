// Package counter keeps per-outcome tallies in Redis hashes.
package counter

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	WebhookOutcomesKey  = "metrics:webhook_outcomes"
	PurchaseOutcomesKey = "metrics:purchase_outcomes"
)

// Counter increments fields of one Redis hash. A nil client makes every
// call a no-op.
type Counter struct {
	client *redis.Client
	key    string
}

func New(client *redis.Client, key string) *Counter {
	return &Counter{client: client, key: key}
}

func (c *Counter) Key() string { return c.key }

// Add bumps field by one. Failures are logged and dropped; counters never
// fail a request.
func (c *Counter) Add(ctx context.Context, field string) {
	if c == nil || c.client == nil || field == "" {
		return
	}
	if err := c.client.HIncrBy(ctx, c.key, field, 1).Err(); err != nil {
		log.Warnf("[Counter] HINCRBY %s %s failed: %v", c.key, field, err)
	}
}

// Snapshot returns the current tallies.
func (c *Counter) Snapshot(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	if c == nil || c.client == nil {
		return out, nil
	}
	data, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return out, err
	}
	for field, raw := range data {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
