package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
)

func newTestLimiter(t *testing.T, limit int64, window time.Duration) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := kv.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })
	return NewRateLimiter(store, limit, window), mr
}

func TestRateLimiter_CeilingBoundary(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	// Requests 1..5 are admitted; the 6th is rejected.
	for i := range 5 {
		require.NoError(t, rl.Allow(ctx, "user-1"), "request %d within ceiling", i+1)
	}

	err := rl.Allow(ctx, "user-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))

	appErr := apperrors.Classify(err)
	retryAfter, ok := appErr.Data["retry_after"].(int)
	require.True(t, ok)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)
}

func TestRateLimiter_PrincipalsIsolated(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, rl.Allow(ctx, "user-1"))
	require.Error(t, rl.Allow(ctx, "user-1"))
	require.NoError(t, rl.Allow(ctx, "user-2"), "another principal has its own budget")
}

func TestRateLimiter_WindowRollOver(t *testing.T) {
	t.Parallel()

	rl, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, rl.Allow(ctx, "user-1"))
	require.Error(t, rl.Allow(ctx, "user-1"))

	mr.FastForward(61 * time.Second)
	require.NoError(t, rl.Allow(ctx, "user-1"), "budget refills when the window key expires")
}

func TestRateLimiter_FailsOpenOnStoreFailure(t *testing.T) {
	t.Parallel()

	rl, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	for i := range 3 {
		assert.NoError(t, rl.Allow(context.Background(), fmt.Sprintf("user-%d", i)),
			"unreachable counter store must admit requests")
	}
}
