/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供服务存活与就绪检查
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow HTTP请求处理流程
 * @rules 存活检查不访问依赖；就绪检查在数据库或Redis不可用时返回503
 * @dependencies net/http, service/monitoring
 * @refs api/routes.go
 */

package controllers

import (
	"net/http"
	"time"

	"insight-service/service/monitoring"

	"github.com/go-chi/render"
)

// ServiceName 服务名
const ServiceName = "insight-service"

// Version 服务版本
var Version = "1.0.0"

// HealthController 健康检查控制器
type HealthController struct {
	checker *monitoring.HealthChecker
}

// NewHealthController 创建健康检查控制器实例，checker 为空时就绪检查不检查依赖
func NewHealthController(checker *monitoring.HealthChecker) *HealthController {
	return &HealthController{checker: checker}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string                   `json:"status" example:"ok"`
	Timestamp time.Time                `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string                   `json:"version" example:"1.0.0"`
	Service   string                   `json:"service" example:"insight-service"`
	Details   *monitoring.HealthStatus `json:"details,omitempty"`
}

// Health 健康检查
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   Version,
		Service:   ServiceName,
	}

	render.JSON(w, r, response)
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 检查数据库、Redis等依赖是否可用
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   Version,
		Service:   ServiceName,
	}
	if c.checker == nil {
		render.JSON(w, r, response)
		return
	}

	response.Details = c.checker.Check(r.Context())
	if response.Details.Overall != monitoring.StatusHealthy {
		response.Status = "not_ready"
		writeJSON(w, r, http.StatusServiceUnavailable, response)
		return
	}
	render.JSON(w, r, response)
}
