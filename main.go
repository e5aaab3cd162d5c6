package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"insight-service/api"
	"insight-service/api/middleware"
	_ "insight-service/docs"
	"insight-service/logger"
	"insight-service/service"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

var (
	PORT         = 80
	BASE_CONTEXT = ""
)

func init() {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	if val := os.Getenv("LISTEN_PORT"); val != "" {
		PORT, _ = strconv.Atoi(val)
	}

	if val := os.Getenv("BASE_CONTEXT"); val != "" {
		BASE_CONTEXT = val
	}
}

// @title 客户洞察服务 API
// @version 1.0
// @description 客户流失预测与销售分析服务，提供报表读取、替换、流水线触发与在线评分
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	logger.InitLogger(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Init(ctx); err != nil {
		log.Fatalf("服务初始化失败: %v", err)
	}
	app := service.GlobalApp
	defer app.Close()
	app.Start()

	deps := api.Dependencies{
		Reports: app.Reports,
		Trigger: app.Scheduler,
		Runs:    app.Repository,
		Scorer:  app.Scorer,
		Health:  app.Health,
		Auth:    middleware.NewAPIKeyAuthFromEnv(),

		ScoreLimit: middleware.NewRateLimit(app.RateLimiter, "score", time.Minute, app.ScoreRateLimit),
	}
	metricsHandler := promhttp.HandlerFor(app.Metrics.Registry(), promhttp.HandlerOpts{})

	mux := chi.NewRouter()

	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if BASE_CONTEXT != "" {
		mux.Route(BASE_CONTEXT, func(r chi.Router) {
			subMux := r.(*chi.Mux)
			api.InitRoute(subMux, deps)
			r.Handle("/metrics", metricsHandler)
			r.Handle("/swagger*", httpSwagger.WrapHandler)
		})
	} else {
		api.InitRoute(mux, deps)
		mux.Handle("/metrics", metricsHandler)
		mux.Handle("/swagger*", httpSwagger.WrapHandler)
	}

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(PORT), mux)
	go func() {
		<-ctx.Done()
		slog.Info("收到退出信号，停止服务")
		if err := s.GracefulStop(); err != nil {
			slog.Error("停止服务失败", "error", err)
		}
	}()

	slog.Info("服务启动", "port", PORT, "base_context", BASE_CONTEXT)
	if err := s.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("error: %v", err)
	}
}
