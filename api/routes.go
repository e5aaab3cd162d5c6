/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference DESIGN.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 写接口统一经过API Key鉴权；报表读接口与健康检查公开
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs main.go, service/init.go
 */

package api

import (
	"insight-service/api/controllers"
	"insight-service/api/middleware"
	"insight-service/service/monitoring"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// Dependencies 路由依赖的服务
type Dependencies struct {
	Reports controllers.ReportService
	Trigger controllers.PipelineTrigger
	Runs    controllers.RunReader
	Scorer  controllers.ChurnScorer
	Health  *monitoring.HealthChecker
	Auth    *middleware.APIKeyAuth
	// 评分接口限流，nil 时不限流
	ScoreLimit *middleware.RateLimit
}

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux, deps Dependencies) {
	// 基础中间件
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := deps.Auth
	if auth == nil {
		auth = middleware.NewAPIKeyAuth(nil)
	}

	// 健康检查
	healthController := controllers.NewHealthController(deps.Health)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	r.Route("/api", func(r chi.Router) {
		reportController := controllers.NewReportController(deps.Reports)
		pipelineController := controllers.NewPipelineController(deps.Trigger, deps.Runs, deps.Scorer)

		// 报表读取
		r.Get("/churn", reportController.GetChurn)
		r.Get("/sales", reportController.GetSales)

		// 在线评分
		r.With(deps.ScoreLimit.Middleware).Post("/churn/score", pipelineController.ScoreCustomers)

		// 运行记录
		r.Get("/pipeline/runs", pipelineController.ListRuns)
		r.Get("/pipeline/runs/{id}", pipelineController.GetRun)

		// 写接口
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Post("/churn", reportController.UpdateChurn)
			r.Post("/sales", reportController.UpdateSales)
			r.Post("/pipeline/run", pipelineController.RunPipeline)
		})
	})
}
