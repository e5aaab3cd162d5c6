package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"insight-service/service/rate_limiter"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	limit := NewRateLimit(rate_limiter.NewMemoryRateLimiter(), "score", time.Minute, 1)
	handler := limit.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	newReq := func(remote string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/churn/score", nil)
		req.RemoteAddr = remote
		return req
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("10.0.0.1:5678"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("10.0.0.2:1234"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	limit := NewRateLimit(rate_limiter.NewMemoryRateLimiter(), "score", time.Minute, 0)
	handler := limit.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestCallerIDPrefersAPIKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1"
	assert.Equal(t, "ip:10.0.0.1", callerID(req))

	req.Header.Set(APIKeyHeader, "secret")
	assert.Contains(t, callerID(req), "key:")
}
