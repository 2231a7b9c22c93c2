package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

const (
	// InboxName is the backend name used in logs and metrics.
	InboxName = "redis"

	defaultInboxRetention = time.Hour
	defaultOutboxSize     = 100
)

type inboxEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Inbox is a notification backend backed by Redis. Codes are submitted
// with `slotwatcher code` (or any Redis client) and polled by the relay;
// alerts are kept in a capped outbox list.
type Inbox struct {
	client     *Client
	retention  time.Duration
	outboxSize int64
	now        func() time.Time
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithRetention sets how long submitted messages are kept.
func WithRetention(d time.Duration) InboxOption {
	return func(i *Inbox) { i.retention = d }
}

// WithInboxClock replaces time.Now.
func WithInboxClock(now func() time.Time) InboxOption {
	return func(i *Inbox) { i.now = now }
}

// NewInbox creates the inbox backend on client.
func NewInbox(client *Client, opts ...InboxOption) *Inbox {
	i := &Inbox{
		client:     client,
		retention:  defaultInboxRetention,
		outboxSize: defaultOutboxSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Inbox) Name() string { return InboxName }

// Send appends message to the outbox, dropping the oldest entries.
func (i *Inbox) Send(ctx context.Context, message string) error {
	entry := inboxEntry{ID: uuid.NewString(), Content: message, Timestamp: i.now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := i.client.rdb.TxPipeline()
	pipe.LPush(ctx, i.client.outboxKey(), data)
	pipe.LTrim(ctx, i.client.outboxKey(), 0, i.outboxSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("outbox write failed: %w", err)
	}
	return nil
}

// Submit stores an inbound message for the relay to pick up.
func (i *Inbox) Submit(ctx context.Context, content string) error {
	now := i.now()
	entry := inboxEntry{ID: uuid.NewString(), Content: content, Timestamp: now}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	cutoff := strconv.FormatInt(now.Add(-i.retention).UnixMilli(), 10)
	pipe := i.client.rdb.TxPipeline()
	pipe.ZAdd(ctx, i.client.inboxKey(), redis.Z{Score: float64(now.UnixMilli()), Member: data})
	pipe.ZRemRangeByScore(ctx, i.client.inboxKey(), "-inf", "("+cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("inbox write failed: %w", err)
	}
	return nil
}

// Poll returns messages submitted after since, oldest first.
func (i *Inbox) Poll(ctx context.Context, since time.Time) ([]domain.Message, error) {
	items, err := i.client.rdb.ZRangeByScore(ctx, i.client.inboxKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		var entry inboxEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		msgs = append(msgs, domain.Message{
			Content:   entry.Content,
			Timestamp: entry.Timestamp,
			Backend:   InboxName,
		})
	}
	return msgs, nil
}

// Outbox returns up to n of the most recent alerts, newest first.
func (i *Inbox) Outbox(ctx context.Context, n int64) ([]domain.Message, error) {
	items, err := i.client.rdb.LRange(ctx, i.client.outboxKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		var entry inboxEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		msgs = append(msgs, domain.Message{Content: entry.Content, Timestamp: entry.Timestamp, Backend: InboxName})
	}
	return msgs, nil
}
