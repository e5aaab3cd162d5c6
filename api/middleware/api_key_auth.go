/*
 * @module api/middleware/api_key_auth
 * @description API Key鉴权中间件，保护报表替换与流水线触发等写接口
 * @architecture 中间件模式 - HTTP请求拦截和验证
 * @documentReference DESIGN.md
 * @stateFlow Key提取 -> 缓存命中/bcrypt比对 -> 下一个处理器
 * @rules 只保存Key的bcrypt哈希；未配置哈希时不启用鉴权
 * @dependencies golang.org/x/crypto/bcrypt, github.com/go-chi/render
 * @refs api/routes.go
 */

package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader 请求头中的Key
const APIKeyHeader = "X-API-Key"

// APIKeyAuth API Key认证中间件
type APIKeyAuth struct {
	hashes [][]byte
	// 验证结果缓存，键为Key的sha256摘要
	cache      map[string]time.Time
	cacheMutex sync.RWMutex
	cacheTTL   time.Duration
	now        func() time.Time
}

// NewAPIKeyAuth 创建认证中间件，hashes 为bcrypt哈希
func NewAPIKeyAuth(hashes []string) *APIKeyAuth {
	m := &APIKeyAuth{
		cache:    make(map[string]time.Time),
		cacheTTL: 5 * time.Minute,
		now:      time.Now,
	}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			m.hashes = append(m.hashes, []byte(h))
		}
	}
	return m
}

// NewAPIKeyAuthFromEnv 从 INSIGHT_API_KEY_HASHES（逗号分隔）创建认证中间件
func NewAPIKeyAuthFromEnv() *APIKeyAuth {
	m := NewAPIKeyAuth(strings.Split(os.Getenv("INSIGHT_API_KEY_HASHES"), ","))
	if !m.Enabled() {
		slog.Warn("未配置INSIGHT_API_KEY_HASHES，写接口不做鉴权")
	}
	return m
}

// HashAPIKey 生成Key的bcrypt哈希
func HashAPIKey(key string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Enabled 是否启用鉴权
func (m *APIKeyAuth) Enabled() bool {
	return len(m.hashes) > 0
}

// Middleware 认证中间件处理函数
func (m *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := extractKey(r)
		if key == "" {
			m.respondUnauthorized(w, r, "缺少API Key")
			return
		}
		if !m.verify(key) {
			m.respondUnauthorized(w, r, "无效的API Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractKey 优先读取 X-API-Key，其次 Authorization: Bearer
func extractKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func (m *APIKeyAuth) verify(key string) bool {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])

	m.cacheMutex.RLock()
	exp, ok := m.cache[digest]
	m.cacheMutex.RUnlock()
	if ok && m.now().Before(exp) {
		return true
	}

	for _, hash := range m.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			m.cacheMutex.Lock()
			m.cache[digest] = m.now().Add(m.cacheTTL)
			m.cacheMutex.Unlock()
			return true
		}
	}
	return false
}

func (m *APIKeyAuth) respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]interface{}{
		"status":  http.StatusUnauthorized,
		"message": message,
		"error":   "Unauthorized",
	})
}
