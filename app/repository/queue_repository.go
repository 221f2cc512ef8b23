package repository

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
)

// queueRepository implements the QueueRepository interface
type queueRepository struct {
	client *redis.Client
}

// NewQueueRepository creates a new queue repository instance
func NewQueueRepository(client *redis.Client) QueueRepository {
	return &queueRepository{client: client}
}

// GetValue retrieves a value for a specific key from Redis
func (r *queueRepository) GetValue(key string) (string, error) {
	return r.client.Get(context.Background(), key).Result()
}

// GetListLength returns the length of a Redis list
func (r *queueRepository) GetListLength(key string) (int64, error) {
	return r.client.LLen(context.Background(), key).Result()
}

// GetListRange returns list elements between start and stop (inclusive)
func (r *queueRepository) GetListRange(key string, start, stop int64) ([]string, error) {
	return r.client.LRange(context.Background(), key, start, stop).Result()
}

// FindKeysByPatterns retrieves keys for the provided Redis match patterns using SCAN.
func (r *queueRepository) FindKeysByPatterns(patterns []string) ([]string, error) {
	ctx := context.Background()
	uniqueKeys := make(map[string]struct{})

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}

		var cursor uint64
		for {
			keys, nextCursor, err := r.client.Scan(ctx, cursor, pattern, 500).Result()
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				uniqueKeys[key] = struct{}{}
			}
			cursor = nextCursor
			if cursor == 0 {
				break
			}
		}
	}

	keys := make([]string, 0, len(uniqueKeys))
	for key := range uniqueKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
