package rate_limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewMemoryRateLimiter()
	limiter.now = func() time.Time { return now }
	rule := RateLimitRule{Scope: "score", TargetID: "1.2.3.4", Window: time.Minute, MaxRequests: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, rule)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, rule)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, now.Add(time.Minute).Unix(), res.ResetAt)

	// 其他调用方不受影响
	other := rule
	other.TargetID = "5.6.7.8"
	res, err = limiter.Allow(ctx, other)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	// 窗口结束后重置
	now = now.Add(time.Minute)
	res, err = limiter.Allow(ctx, rule)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryRateLimiterDisabledRule(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	res, err := limiter.Allow(context.Background(), RateLimitRule{Scope: "score"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, -1, res.Limit)
}

func TestBuildRateLimitKey(t *testing.T) {
	rule := RateLimitRule{Scope: "score", TargetID: "k", Window: time.Minute, MaxRequests: 1}
	at := time.Unix(120, 0)
	assert.Equal(t, "score:k:2", buildRateLimitKey(rule, at))
	assert.Equal(t, "score:k:2", buildRateLimitKey(rule, at.Add(59*time.Second)))
	assert.Equal(t, "score:k:3", buildRateLimitKey(rule, at.Add(time.Minute)))
}
