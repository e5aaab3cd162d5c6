/*
 * @module service/init
 * @description 服务初始化模块，负责数据库、Redis、报表存储、流水线、调度器与消息连接器的装配
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow 读取环境变量 -> 连接依赖 -> 迁移 -> 组装服务 -> 启动调度器
 * @rules
 *   - 数据库是必需依赖，连接失败即启动失败
 *   - Redis、Kafka、MQTT、S3 均为可选，未配置时使用进程内实现或跳过
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/sqlite, github.com/go-redis/redis/v8
 * @refs main.go, api/routes.go
 */

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"insight-service/client/connectors"
	"insight-service/service/config"
	"insight-service/service/dataset"
	"insight-service/service/distributed_lock"
	"insight-service/service/monitoring"
	"insight-service/service/pipeline"
	"insight-service/service/rate_limiter"
	"insight-service/service/scheduler"
	"insight-service/service/store"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cast"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Settings 进程级配置，来自环境变量
type Settings struct {
	DBDriver    string
	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PipelineConfigPath string
	DatasetPath        string
	DatasetEncoding    string
	DatasetSQLDSN      string
	DatasetSQLQuery    string
	CronExpr           string
	ReportFallbackDir  string
	ScorerCacheSize    int
	ScoreRateLimit     int

	KafkaBrokers []string
	KafkaTopic   string

	MQTTBroker      string
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string

	S3 store.S3ArchiveConfig
}

// LoadSettings 从环境变量读取配置
func LoadSettings() Settings {
	s := Settings{
		DBDriver:           getEnvWithDefault("DB_DRIVER", "postgres"),
		PipelineConfigPath: os.Getenv("PIPELINE_CONFIG"),
		DatasetPath:        getEnvWithDefault("DATASET_PATH", "data/dataset.csv"),
		DatasetEncoding:    os.Getenv("DATASET_ENCODING"),
		DatasetSQLDSN:      os.Getenv("DATASET_SQL_DSN"),
		DatasetSQLQuery:    os.Getenv("DATASET_SQL_QUERY"),
		CronExpr:           os.Getenv("PIPELINE_CRON"),
		ReportFallbackDir:  getEnvWithDefault("REPORT_FALLBACK_DIR", "data"),
		ScorerCacheSize:    cast.ToInt(getEnvWithDefault("SCORER_CACHE_SIZE", "4")),
		ScoreRateLimit:     cast.ToInt(getEnvWithDefault("SCORE_RATE_LIMIT", "120")),
		KafkaBrokers:       connectors.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnvWithDefault("KAFKA_TOPIC", "insight.reports"),
		MQTTBroker:         os.Getenv("MQTT_BROKER"),
		MQTTTopicPrefix:    getEnvWithDefault("MQTT_TOPIC_PREFIX", "insight/reports"),
		MQTTUsername:       os.Getenv("MQTT_USERNAME"),
		MQTTPassword:       os.Getenv("MQTT_PASSWORD"),
		S3: store.S3ArchiveConfig{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Region:    getEnvWithDefault("S3_REGION", "us-east-1"),
			Bucket:    os.Getenv("S3_BUCKET"),
			Prefix:    os.Getenv("S3_PREFIX"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			PathStyle: cast.ToBool(os.Getenv("S3_PATH_STYLE")),
		},
	}

	switch s.DBDriver {
	case "sqlite":
		s.DatabaseDSN = getEnvWithDefault("SQLITE_PATH", "insight.db")
	default:
		// 优先使用DATABASE_URL环境变量
		if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
			s.DatabaseDSN = databaseURL
		} else {
			s.DatabaseDSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=UTC",
				getEnvWithDefault("DB_HOST", "localhost"),
				getEnvWithDefault("DB_PORT", "5432"),
				getEnvWithDefault("DB_USER", "postgres"),
				getEnvWithDefault("DB_PASSWORD", "postgres"),
				getEnvWithDefault("DB_NAME", "insight"),
				getEnvWithDefault("DB_SSLMODE", "disable"),
				getEnvWithDefault("DB_SCHEMA", "public"))
		}
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		s.RedisAddr = fmt.Sprintf("%s:%s", host, getEnvWithDefault("REDIS_PORT", "6379"))
		s.RedisPassword = os.Getenv("REDIS_PASSWORD")
		s.RedisDB = cast.ToInt(os.Getenv("REDIS_DB"))
	}
	return s
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// App 装配完成的服务集合
type App struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Repository *store.Repository
	Reports    *store.ReportService
	Pipeline   *pipeline.Pipeline
	Scheduler  *scheduler.PipelineScheduler
	Scorer     *pipeline.Scorer
	Metrics    *monitoring.PipelineMetrics
	Health     *monitoring.HealthChecker
	// 评分接口限流器及每分钟上限
	RateLimiter    rate_limiter.Limiter
	ScoreRateLimit int

	closers []func() error
}

// GlobalApp 全局服务实例，由 Init 设置
var GlobalApp *App

// Init 使用环境变量初始化全局服务实例
func Init(ctx context.Context) error {
	app, err := NewApp(ctx, LoadSettings())
	if err != nil {
		return err
	}
	GlobalApp = app
	return nil
}

// NewApp 按配置装配服务
func NewApp(ctx context.Context, s Settings) (*App, error) {
	app := &App{
		Metrics: monitoring.NewPipelineMetrics(),
		Health:  monitoring.NewHealthChecker(3 * time.Second),

		RateLimiter:    rate_limiter.NewMemoryRateLimiter(),
		ScoreRateLimit: s.ScoreRateLimit,
	}

	db, err := openDatabase(s)
	if err != nil {
		return nil, err
	}
	app.DB = db
	app.Repository = store.NewRepository(db)
	if err := app.Repository.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	app.Health.Register("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if sqlDB, err := db.DB(); err == nil {
		app.closers = append(app.closers, sqlDB.Close)
	}

	var (
		current store.ReportStore = store.NewMemoryStore()
		lock    distributed_lock.DistributedLock
	)
	if s.RedisAddr != "" {
		client, err := newRedisClient(ctx, s)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Redis = client
		app.closers = append(app.closers, client.Close)
		app.Health.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		current = store.NewRedisStore(client, "")
		lock = distributed_lock.NewRedisLock(client, "")
		app.RateLimiter = rate_limiter.NewRedisRateLimiter(client, "")
	}

	app.Reports = store.NewReportService(current, app.Repository, store.NewFileStore(s.ReportFallbackDir))
	app.Reports.AddNotifier(app.Metrics)
	if err := app.attachOptional(ctx, s); err != nil {
		app.Close()
		return nil, err
	}

	cfg, err := config.LoadPipelineConfig(s.PipelineConfigPath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("加载流水线配置失败: %w", err)
	}
	app.Pipeline, err = pipeline.New(cfg, newSource(s, cfg),
		pipeline.WithRunStore(app.Repository),
		pipeline.WithPublisher(app.Reports),
		pipeline.WithObserver(app.Metrics),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Scheduler, err = scheduler.NewPipelineScheduler(app.Pipeline, lock, scheduler.Options{CronExpr: s.CronExpr})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Scorer, err = pipeline.NewScorer(app.Repository, s.ScorerCacheSize)
	if err != nil {
		app.Close()
		return nil, err
	}

	slog.Info("服务初始化完成", "db_driver", s.DBDriver, "redis", s.RedisAddr != "", "cron", s.CronExpr)
	return app, nil
}

// attachOptional 挂载 Kafka、MQTT 通知与 S3 归档
func (a *App) attachOptional(ctx context.Context, s Settings) error {
	if len(s.KafkaBrokers) > 0 {
		kc, err := connectors.NewKafkaConnector(&connectors.KafkaConfig{
			Brokers:      s.KafkaBrokers,
			Topic:        s.KafkaTopic,
			RequiredAcks: 1,
			BatchTimeout: 50 * time.Millisecond,
		})
		if err != nil {
			return err
		}
		a.Reports.AddNotifier(kc)
		a.closers = append(a.closers, kc.Close)
	}

	if s.MQTTBroker != "" {
		mc, err := connectors.NewMQTTConnector(&connectors.MQTTConfig{
			Broker:      s.MQTTBroker,
			Username:    s.MQTTUsername,
			Password:    s.MQTTPassword,
			TopicPrefix: s.MQTTTopicPrefix,
			QoS:         1,
			Retained:    true,
		})
		if err != nil {
			// 看板推送不影响主流程
			slog.Warn("MQTT连接失败，跳过报表推送", "broker", s.MQTTBroker, "error", err)
		} else {
			a.Reports.AddNotifier(mc)
			a.closers = append(a.closers, mc.Close)
		}
	}

	if s.S3.Bucket != "" {
		archive, err := store.NewS3Archive(ctx, s.S3)
		if err != nil {
			return err
		}
		a.Reports.SetArchiver(archive)
	}
	return nil
}

// Start 启动后台任务
func (a *App) Start() {
	a.Scheduler.Start()
}

// Close 停止调度器并释放连接
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("释放资源失败", "error", err)
	}
}

// openDatabase 初始化数据库连接
func openDatabase(s Settings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch s.DBDriver {
	case "postgres":
		dialector = postgres.Open(s.DatabaseDSN)
	case "sqlite":
		dialector = sqlite.Open(s.DatabaseDSN)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", s.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	if s.DBDriver == "sqlite" {
		// sqlite 只允许单写连接
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	slog.Info("数据库连接成功", "driver", s.DBDriver)
	return db, nil
}

// newRedisClient 创建Redis客户端并测试连接
func newRedisClient(ctx context.Context, s Settings) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         s.RedisAddr,
		Password:     s.RedisPassword,
		DB:           s.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}
	slog.Info("Redis连接成功", "addr", s.RedisAddr)
	return client, nil
}

// newSource 配置了SQL数据源时优先使用，否则读取CSV文件
func newSource(s Settings, cfg config.PipelineConfig) dataset.Source {
	if s.DatasetSQLDSN != "" && s.DatasetSQLQuery != "" {
		return dataset.NewSQLSource(s.DatasetSQLDSN, s.DatasetSQLQuery)
	}
	encoding := s.DatasetEncoding
	if encoding == "" {
		encoding = cfg.Dataset.Encoding
	}
	return dataset.NewCSVSource(s.DatasetPath, encoding)
}
