/*
 * @module service/monitoring/health
 * @description 健康检查器，检查数据库、Redis 等依赖服务的可用性
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 注册检查项 -> 并发检查 -> 汇总状态
 * @rules 任一依赖不可用时整体状态为 critical
 * @dependencies context, sync
 * @refs api/controllers/health_controller.go
 */

package monitoring

import (
	"context"
	"sync"
	"time"
)

// 健康状态
const (
	StatusHealthy  = "healthy"
	StatusCritical = "critical"
)

// CheckFunc 依赖检查函数
type CheckFunc func(ctx context.Context) error

// DependencyHealth 依赖服务健康状态
type DependencyHealth struct {
	Name         string        `json:"name"`
	Status       string        `json:"status"`
	Available    bool          `json:"available"`
	ResponseTime time.Duration `json:"response_time"`
	LastChecked  time.Time     `json:"last_checked"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// HealthStatus 整体健康状态
type HealthStatus struct {
	Overall      string                       `json:"overall"`
	Timestamp    time.Time                    `json:"timestamp"`
	Dependencies map[string]*DependencyHealth `json:"dependencies"`
	System       SystemMetrics                `json:"system"`
}

// HealthChecker 健康检查器
type HealthChecker struct {
	timeout time.Duration
	checks  map[string]CheckFunc
	mutex   sync.RWMutex
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthChecker{timeout: timeout, checks: make(map[string]CheckFunc)}
}

// Register 注册依赖检查
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checks[name] = check
}

// Check 执行全部检查
func (h *HealthChecker) Check(ctx context.Context) *HealthStatus {
	h.mutex.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mutex.RUnlock()

	status := &HealthStatus{
		Overall:      StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]*DependencyHealth, len(checks)),
		System:       CollectSystemMetrics(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := fn(checkCtx)
			dep := &DependencyHealth{
				Name:         name,
				Status:       StatusHealthy,
				Available:    err == nil,
				ResponseTime: time.Since(start),
				LastChecked:  time.Now(),
			}
			if err != nil {
				dep.Status = StatusCritical
				dep.ErrorMessage = err.Error()
			}

			mu.Lock()
			status.Dependencies[name] = dep
			if err != nil {
				status.Overall = StatusCritical
			}
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()
	return status
}
