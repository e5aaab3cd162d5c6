/*
 * @module api/middleware/rate_limit
 * @description 限流中间件，按调用方（API Key或客户端IP）限制请求频率
 * @architecture 中间件模式
 * @documentReference DESIGN.md
 * @stateFlow 提取调用方 -> 限流检查 -> 写入X-RateLimit头 -> 放行或429
 * @rules 限流器异常时放行请求并记录日志
 * @dependencies github.com/go-chi/render
 * @refs service/rate_limiter/redis_rate_limiter.go, api/routes.go
 */

package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"insight-service/service/rate_limiter"

	"github.com/go-chi/render"
)

// RateLimit 限流中间件
type RateLimit struct {
	limiter     rate_limiter.Limiter
	scope       string
	window      time.Duration
	maxRequests int
}

// NewRateLimit 创建限流中间件，maxRequests<=0 时不限流
func NewRateLimit(limiter rate_limiter.Limiter, scope string, window time.Duration, maxRequests int) *RateLimit {
	return &RateLimit{
		limiter:     limiter,
		scope:       scope,
		window:      window,
		maxRequests: maxRequests,
	}
}

// Middleware 限流中间件处理函数
func (l *RateLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.limiter == nil || l.maxRequests <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		result, err := l.limiter.Allow(r.Context(), rate_limiter.RateLimitRule{
			Scope:       l.scope,
			TargetID:    callerID(r),
			Window:      l.window,
			MaxRequests: l.maxRequests,
		})
		if err != nil {
			slog.Error("限流检查失败，放行请求", "scope", l.scope, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))
		if !result.Allowed {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, map[string]interface{}{
				"status":  http.StatusTooManyRequests,
				"message": "请求过于频繁，请稍后重试",
				"error":   "Too Many Requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerID 有API Key时按Key摘要区分，否则按客户端IP
func callerID(r *http.Request) string {
	if key := extractKey(r); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
