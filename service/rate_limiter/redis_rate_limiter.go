/*
 * @module service/rate_limiter/redis_rate_limiter
 * @description 固定窗口限流，保护在线评分等计算密集接口
 * @architecture 工具层 - Redis实现用于多实例部署，内存实现用于单实例
 * @documentReference DESIGN.md
 * @stateFlow 构造窗口Key -> 原子计数 -> 判断是否超限
 * @rules
 *   - Redis实现使用Lua脚本保证INCR与EXPIRE的原子性
 *   - 同一窗口内计数超过上限即拒绝，窗口结束后自动重置
 * @dependencies github.com/go-redis/redis/v8
 * @refs api/middleware/rate_limit.go, service/init.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimitResult 限流检查结果
type RateLimitResult struct {
	Allowed   bool  `json:"allowed"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"reset_at"` // Unix时间戳
}

// RateLimitRule 限流规则
type RateLimitRule struct {
	Scope       string        // 限流范围，如 score
	TargetID    string        // 调用方标识，API Key摘要或客户端IP
	Window      time.Duration // 时间窗口
	MaxRequests int           // 窗口内最大请求数
}

// Limiter 限流器接口
type Limiter interface {
	Allow(ctx context.Context, rule RateLimitRule) (*RateLimitResult, error)
}

const rateLimitScript = `
	local key = KEYS[1]
	local max_requests = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	if current >= max_requests then
		local ttl = redis.call('PTTL', key)
		if ttl < 0 then
			ttl = window_ms
		end
		return {0, current, ttl}
	end

	local new_count = redis.call('INCR', key)
	if new_count == 1 then
		redis.call('PEXPIRE', key, window_ms)
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		ttl = window_ms
	end
	return {1, new_count, ttl}
`

// RedisRateLimiter Redis限流器
type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisRateLimiter 创建Redis限流器
func NewRedisRateLimiter(client *redis.Client, keyPrefix string) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "insight:rate_limit:"
	}
	return &RedisRateLimiter{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// Allow 检查并累加一次请求
func (r *RedisRateLimiter) Allow(ctx context.Context, rule RateLimitRule) (*RateLimitResult, error) {
	if rule.MaxRequests <= 0 || rule.Window <= 0 {
		return unlimited(), nil
	}
	now := r.now()
	key := r.keyPrefix + buildRateLimitKey(rule, now)

	raw, err := r.client.Eval(ctx, rateLimitScript, []string{key}, rule.MaxRequests, rule.Window.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("限流检查失败: %w", err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("限流脚本返回值异常: %v", raw)
	}
	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	ttl, _ := values[2].(int64)

	return newResult(allowed == 1, rule.MaxRequests, int(count), now.Add(time.Duration(ttl)*time.Millisecond)), nil
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter 进程内限流器
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryRateLimiter 创建进程内限流器
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{windows: make(map[string]*window), now: time.Now}
}

// Allow 检查并累加一次请求
func (m *MemoryRateLimiter) Allow(ctx context.Context, rule RateLimitRule) (*RateLimitResult, error) {
	if rule.MaxRequests <= 0 || rule.Window <= 0 {
		return unlimited(), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := rule.Scope + ":" + rule.TargetID
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Truncate(rule.Window).Add(rule.Window)}
		m.windows[key] = w
		m.evictExpired(now)
	}
	if w.count >= rule.MaxRequests {
		return newResult(false, rule.MaxRequests, w.count, w.resetAt), nil
	}
	w.count++
	return newResult(true, rule.MaxRequests, w.count, w.resetAt), nil
}

// evictExpired 清理已过期窗口，调用方持有锁
func (m *MemoryRateLimiter) evictExpired(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}

// buildRateLimitKey 构造限流Key，包含窗口序号
func buildRateLimitKey(rule RateLimitRule, now time.Time) string {
	current := now.UnixMilli() / rule.Window.Milliseconds()
	return fmt.Sprintf("%s:%s:%d", rule.Scope, rule.TargetID, current)
}

func newResult(allowed bool, limit, count int, resetAt time.Time) *RateLimitResult {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt.Unix(),
	}
}

func unlimited() *RateLimitResult {
	return &RateLimitResult{Allowed: true, Limit: -1, Remaining: -1}
}
