package auth

import (
	"context"
	"time"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter enforces a fixed-window request ceiling per principal. The
// counters live in KV so the limit holds across replicas; window roll-over
// is implicit through the key TTL.
type RateLimiter struct {
	store  kv.Store
	limit  int64
	window time.Duration
}

// NewRateLimiter creates a limiter admitting limit requests per window.
func NewRateLimiter(store kv.Store, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{store: store, limit: limit, window: window}
}

// Allow consumes one unit of the principal's budget. Above the ceiling it
// returns rate-limited with a retry-after hint equal to the window
// remainder. A KV failure fails open: the request is admitted and the
// failure logged.
func (rl *RateLimiter) Allow(ctx context.Context, principal string) error {
	key := rateLimitPrefix + principal

	n, err := rl.store.IncrWithTTL(ctx, key, rl.window)
	if err != nil {
		logger.Warnf("Rate limit counter unavailable, admitting request: %v", err)
		return nil
	}
	if n <= rl.limit {
		return nil
	}

	remainder := rl.window
	if ttl, err := rl.store.TTL(ctx, key); err == nil && ttl > 0 {
		remainder = ttl
	}
	retryAfter := int(remainder.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return apperrors.NewRateLimited("rate limit exceeded", retryAfter)
}
