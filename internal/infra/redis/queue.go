package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

// LocationQueue is the pool's re-submission queue kept in a Redis list, so
// locations and their mutations (cleared codes) survive a restart.
type LocationQueue struct {
	client *Client
}

// NewLocationQueue creates a queue on client.
func NewLocationQueue(client *Client) *LocationQueue {
	return &LocationQueue{client: client}
}

// Push appends loc to the tail of the queue.
func (q *LocationQueue) Push(ctx context.Context, loc domain.Location) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, q.client.queueKey(), data).Err(); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

// Pop removes the head of the queue.
func (q *LocationQueue) Pop(ctx context.Context) (domain.Location, bool, error) {
	data, err := q.client.rdb.LPop(ctx, q.client.queueKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Location{}, false, nil
	}
	if err != nil {
		return domain.Location{}, false, fmt.Errorf("lpop failed: %w", err)
	}

	var loc domain.Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return domain.Location{}, false, fmt.Errorf("invalid queued location: %w", err)
	}
	return loc, true, nil
}

// Len returns the number of queued locations.
func (q *LocationQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.rdb.LLen(ctx, q.client.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("llen failed: %w", err)
	}
	return int(n), nil
}

// List returns the queued locations without removing them.
func (q *LocationQueue) List(ctx context.Context) ([]domain.Location, error) {
	items, err := q.client.rdb.LRange(ctx, q.client.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}
	out := make([]domain.Location, 0, len(items))
	for _, item := range items {
		var loc domain.Location
		if err := json.Unmarshal([]byte(item), &loc); err != nil {
			return nil, fmt.Errorf("invalid queued location: %w", err)
		}
		out = append(out, loc)
	}
	return out, nil
}

// Clear removes every queued location.
func (q *LocationQueue) Clear(ctx context.Context) error {
	return q.client.rdb.Del(ctx, q.client.queueKey()).Err()
}
