/*
 * @module service/monitoring/metrics
 * @description 流水线指标：运行次数、阶段耗时与失败、最近一次运行规模、报表发布次数
 * @architecture 观察者模式 - 实现 pipeline.Observer 与 store.Notifier，指标注册到独立 Registry
 * @documentReference DESIGN.md
 * @stateFlow 阶段结束 -> 直方图/计数器；运行结束 -> 计数器/仪表盘
 * @rules 指标名统一使用 insight_ 前缀
 * @dependencies github.com/prometheus/client_golang
 * @refs main.go, service/pipeline/pipeline.go
 */

package monitoring

import (
	"context"
	"runtime"
	"time"

	"insight-service/service/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PipelineMetrics 流水线指标
type PipelineMetrics struct {
	registry       *prometheus.Registry
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	stageFailures  *prometheus.CounterVec
	lastSuccess    prometheus.Gauge
	customers      prometheus.Gauge
	positives      prometheus.Gauge
	clusters       prometheus.Gauge
	reportsUpdated *prometheus.CounterVec
}

// NewPipelineMetrics 创建并注册指标
func NewPipelineMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_pipeline_runs_total",
			Help: "流水线运行次数",
		}, []string{"status", "trigger"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "insight_pipeline_run_duration_seconds",
			Help:    "流水线整体耗时",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insight_pipeline_stage_duration_seconds",
			Help:    "各阶段耗时",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_pipeline_stage_failures_total",
			Help: "各阶段失败次数",
		}, []string{"stage"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insight_pipeline_last_success_timestamp_seconds",
			Help: "最近一次成功运行的完成时间",
		}),
		customers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insight_pipeline_customers",
			Help: "最近一次成功运行的客户数",
		}),
		positives: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insight_pipeline_churn_positives",
			Help: "最近一次成功运行的流失客户数",
		}),
		clusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "insight_pipeline_clusters",
			Help: "最近一次成功运行选出的簇数",
		}),
		reportsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_reports_published_total",
			Help: "报表发布次数",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.runs, m.runDuration, m.stageDuration, m.stageFailures,
		m.lastSuccess, m.customers, m.positives, m.clusters, m.reportsUpdated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 指标注册表，供 promhttp 暴露
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// StageFinished 记录阶段耗时
func (m *PipelineMetrics) StageFinished(stage string, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// RunFinished 记录运行结果
func (m *PipelineMetrics) RunFinished(run *models.PipelineRun, duration time.Duration) {
	m.runs.WithLabelValues(run.Status, run.Trigger).Inc()
	m.runDuration.Observe(duration.Seconds())
	if run.Status != models.RunStatusSucceeded {
		return
	}
	if run.FinishedAt != nil {
		m.lastSuccess.Set(float64(run.FinishedAt.Unix()))
	}
	m.customers.Set(float64(run.Customers))
	m.positives.Set(float64(run.Positives))
	m.clusters.Set(float64(run.ClusterCount))
}

// NotifyReportUpdated 记录报表发布
func (m *PipelineMetrics) NotifyReportUpdated(ctx context.Context, kind, runID string) error {
	m.reportsUpdated.WithLabelValues(kind).Inc()
	return nil
}

// SystemMetrics 进程指标快照
type SystemMetrics struct {
	Timestamp      time.Time `json:"timestamp"`
	GoroutineCount int       `json:"goroutine_count"` // Goroutine数量
	HeapSize       uint64    `json:"heap_size"`       // 堆内存大小
	NumGC          uint32    `json:"num_gc"`
}

// CollectSystemMetrics 收集进程指标
func CollectSystemMetrics() SystemMetrics {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemMetrics{
		Timestamp:      time.Now(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapSize:       memStats.HeapAlloc,
		NumGC:          memStats.NumGC,
	}
}
