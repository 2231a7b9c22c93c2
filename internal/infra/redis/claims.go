package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/slotwatcher/internal/core/domain"
)

// CodeClaims marks relayed codes as consumed across every process sharing
// the Redis instance, so one SMS code is never entered by two workers.
type CodeClaims struct {
	client *Client
}

// NewCodeClaims creates a claim set on client.
func NewCodeClaims(client *Client) *CodeClaims {
	return &CodeClaims{client: client}
}

// Claim returns true if the code was not claimed before within ttl.
func (c *CodeClaims) Claim(ctx context.Context, kind domain.CodeKind, code string, ttl time.Duration) (bool, error) {
	ok, err := c.client.rdb.SetNX(ctx, c.client.claimKey(string(kind), code), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}
