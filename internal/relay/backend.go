// Package relay races notification backends for one-time codes and
// broadcasts alerts to every enabled channel.
//
// This package contains:
//   - Notifier / Poller: the capability every channel implements
//   - Relay: Await (code race against a deadline) and Broadcast (alerts)
//   - Claimer: at-most-once consumption of a relayed code across workers
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

// Notifier is a notification channel that can deliver messages.
type Notifier interface {
	// Name identifies the backend (e.g., "telegram", "zulip")
	Name() string

	// Send delivers a message
	Send(ctx context.Context, message string) error
}

// Poller is implemented by channels that can also read inbound messages.
// Send-only channels (command, slack, ...) do not implement it.
type Poller interface {
	// Poll returns messages received after since
	Poll(ctx context.Context, since time.Time) ([]domain.Message, error)
}

// BackendError wraps a failure of a single backend.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Claimer records consumed codes so a single message never satisfies two requests.
type Claimer interface {
	// Claim returns true if the code was not claimed before within ttl.
	Claim(ctx context.Context, kind domain.CodeKind, code string, ttl time.Duration) (bool, error)
}

// MemoryClaims is an in-process Claimer.
type MemoryClaims struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	now     func() time.Time
}

// NewMemoryClaims creates an empty in-process claim set.
func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{
		claimed: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Claim implements Claimer.
func (m *MemoryClaims) Claim(ctx context.Context, kind domain.CodeKind, code string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, expires := range m.claimed {
		if now.After(expires) {
			delete(m.claimed, key)
		}
	}

	key := string(kind) + ":" + code
	if _, ok := m.claimed[key]; ok {
		return false, nil
	}
	m.claimed[key] = now.Add(ttl)
	return true, nil
}
