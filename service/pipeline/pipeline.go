/*
 * @module service/pipeline/pipeline
 * @description 分析流水线：加载数据 -> 特征 -> 标签 -> 分类 -> 分群 -> 预测 -> 组装 -> 发布
 * @architecture 管道模式 - 每个阶段失败都包装为 StageError，整次运行同步执行
 * @documentReference DESIGN.md
 * @stateFlow running -> succeeded | failed(failed_stage)
 * @rules
 *   - 失败的运行不发布任何报表
 *   - 同一进程内同时只允许一次运行
 *   - 中间状态只属于本次运行，发布后报表不可变
 * @dependencies github.com/google/uuid, log/slog
 * @refs service/store, service/scheduler, api/controllers/pipeline_controller.go
 */

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"insight-service/service/classifier"
	"insight-service/service/config"
	"insight-service/service/dataset"
	"insight-service/service/features"
	"insight-service/service/forecast"
	"insight-service/service/labeling"
	"insight-service/service/models"
	"insight-service/service/report"
	"insight-service/service/segmentation"

	"github.com/google/uuid"
)

// 阶段名称
const (
	StageLoad           = "load"
	StageFeatures       = "features"
	StageLabels         = "labels"
	StageClassification = "classification"
	StageSegmentation   = "segmentation"
	StageForecasting    = "forecasting"
	StageAssembly       = "assembly"
	StagePublish        = "publish"
)

// Stages 阶段执行顺序
var Stages = []string{
	StageLoad, StageFeatures, StageLabels, StageClassification,
	StageSegmentation, StageForecasting, StageAssembly, StagePublish,
}

// ErrRunInProgress 已有运行在执行
var ErrRunInProgress = errors.New("pipeline run already in progress")

// StageError 带阶段信息的错误
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s 阶段失败: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage 返回错误所属阶段，非阶段错误返回空串
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// RunStore 运行记录与产物持久化
type RunStore interface {
	CreateRun(ctx context.Context, run *models.PipelineRun) error
	FinishRun(ctx context.Context, run *models.PipelineRun) error
	SaveArtifacts(ctx context.Context, runID string, artifacts map[string][]byte) error
}

// Publisher 报表发布
type Publisher interface {
	Publish(ctx context.Context, runID, source string, reports map[string][]byte) error
}

// Observer 运行观测（指标）
type Observer interface {
	StageFinished(stage string, duration time.Duration, err error)
	RunFinished(run *models.PipelineRun, duration time.Duration)
}

// Result 一次成功运行的产出
type Result struct {
	Run          *models.PipelineRun
	Churn        *report.ChurnReport
	Sales        *report.SalesReport
	Reports      map[string][]byte
	Metrics      classifier.Metrics
	Labels       labeling.LabelSet
	Segmentation *segmentation.Result
	Artifacts    *Artifacts
}

// Option 流水线选项
type Option func(*Pipeline)

// WithRunStore 持久化运行记录与产物
func WithRunStore(rs RunStore) Option {
	return func(p *Pipeline) { p.runs = rs }
}

// WithPublisher 运行成功后发布报表
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithObserver 设置观测器
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithColumnSpec 覆盖默认列清单
func WithColumnSpec(spec dataset.ColumnSpec) Option {
	return func(p *Pipeline) { p.columns = spec }
}

// Pipeline 分析流水线
type Pipeline struct {
	cfg       config.PipelineConfig
	source    dataset.Source
	columns   dataset.ColumnSpec
	deriver   *labeling.Deriver
	runs      RunStore
	publisher Publisher
	observer  Observer
	mu        sync.Mutex
}

// New 创建流水线，标签规则（含脚本）在此编译
func New(cfg config.PipelineConfig, source dataset.Source, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("流水线配置无效: %w", err)
	}
	deriver, err := labeling.NewDeriver(cfg.Labeling)
	if err != nil {
		return nil, fmt.Errorf("加载标签规则失败: %w", err)
	}
	p := &Pipeline{cfg: cfg, source: source, columns: dataset.DefaultColumnSpec(), deriver: deriver}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config 当前配置
func (p *Pipeline) Config() config.PipelineConfig {
	return p.cfg
}

// Run 执行一次完整运行
func (p *Pipeline) Run(ctx context.Context, trigger string) (*Result, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	start := time.Now()
	run := &models.PipelineRun{
		ID:        uuid.New().String(),
		Status:    models.RunStatusRunning,
		Trigger:   trigger,
		Source:    p.source.Describe(),
		StartedAt: start,
	}
	if p.runs != nil {
		if err := p.runs.CreateRun(ctx, run); err != nil {
			slog.Warn("创建运行记录失败", "run_id", run.ID, "error", err)
		}
	}
	slog.Info("流水线开始运行", "run_id", run.ID, "trigger", trigger, "source", run.Source)

	result, err := p.execute(ctx, run)

	finished := time.Now()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = models.RunStatusFailed
		run.FailedStage = FailedStage(err)
		run.Message = err.Error()
		slog.Error("流水线运行失败", "run_id", run.ID, "stage", run.FailedStage, "error", err)
	} else {
		run.Status = models.RunStatusSucceeded
		slog.Info("流水线运行完成", "run_id", run.ID, "duration_ms", finished.Sub(start).Milliseconds())
	}
	if p.runs != nil {
		if ferr := p.runs.FinishRun(ctx, run); ferr != nil {
			slog.Warn("更新运行记录失败", "run_id", run.ID, "error", ferr)
		}
	}
	if p.observer != nil {
		p.observer.RunFinished(run, finished.Sub(start))
	}
	if err != nil {
		return nil, err
	}
	result.Run = run
	return result, nil
}

func (p *Pipeline) stage(runID, name string, fn func() error) error {
	start := time.Now()
	slog.Debug("阶段开始", "stage", name, "run_id", runID)
	err := fn()
	duration := time.Since(start)
	if p.observer != nil {
		p.observer.StageFinished(name, duration, err)
	}
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	slog.Info("阶段完成", "stage", name, "run_id", runID, "duration_ms", duration.Milliseconds())
	return nil
}

func (p *Pipeline) execute(ctx context.Context, run *models.PipelineRun) (*Result, error) {
	var (
		ds         *dataset.Dataset
		customers  []dataset.Customer
		churnFS    *features.FeatureSet
		segmentFS  *features.FeatureSet
		labels     labeling.LabelSet
		model      *classifier.Model
		probs      []float64
		segments   *segmentation.Result
		churnTrend []forecast.Point
		revenue    []forecast.Point
		result     = &Result{}
	)
	diagnostics := models.JSONB{}
	run.Diagnostics = diagnostics

	err := p.stage(run.ID, StageLoad, func() error {
		table, err := p.source.Load(ctx)
		if err != nil {
			return err
		}
		ds, err = dataset.Build(table, p.columns, p.cfg.Dataset)
		if err != nil {
			return err
		}
		customers = ds.Customers()
		if len(customers) == 0 {
			return dataset.ErrEmptyDataset
		}
		run.Customers = len(customers)
		diagnostics["rows"] = len(ds.Rows)
		diagnostics["skipped_rows"] = ds.SkippedRows
		diagnostics["anchor"] = ds.Anchor.Format("2006-01-02")
		diagnostics["date_parsing"] = ds.DateStats
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(run.ID, StageFeatures, func() error {
		builder, err := features.NewBuilder(p.cfg.Classifier.NumericFeatures, p.cfg.Classifier.CategoricalFeatures)
		if err != nil {
			return err
		}
		if churnFS, err = builder.Build(customers, ds.Anchor); err != nil {
			return err
		}
		segBuilder, err := features.NewBuilder(p.cfg.Segmentation.Features, nil)
		if err != nil {
			return err
		}
		if segmentFS, err = segBuilder.Build(customers, ds.Anchor); err != nil {
			return err
		}
		diagnostics["imputed"] = churnFS.Imputed
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(run.ID, StageLabels, func() error {
		var err error
		labels, err = p.deriver.Derive(customers, ds.Anchor, ds.HasColumn(dataset.ColChurnLabel))
		if err != nil {
			return err
		}
		run.Positives = labels.Positives
		run.LabelSource = labels.Source
		diagnostics["label_rule"] = p.deriver.RuleName()
		diagnostics["positive_rate"] = labels.PositiveRate()
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(run.ID, StageClassification, func() error {
		var err error
		model, err = classifier.Train(ctx, churnFS.Values, labels.Labels, len(churnFS.State.Numeric), classifier.OptionsFromConfig(p.cfg.Classifier))
		if err != nil {
			return err
		}
		if probs, err = model.PredictAll(churnFS.Values); err != nil {
			return err
		}
		diagnostics["classifier"] = model.Metrics
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(run.ID, StageSegmentation, func() error {
		var err error
		segments, err = segmentation.NewSegmenter(p.cfg.Segmentation).Segment(segmentFS.Values, segmentFS.Columns)
		if err != nil {
			return err
		}
		run.ClusterCount = segments.Selection.K
		diagnostics["segmentation"] = segments
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(run.ID, StageForecasting, func() error {
		var err error
		churnTrend, err = forecast.NewForecaster(p.cfg.Forecast.Churn, forecast.ClampRange(0, 1)).
			Forecast(ChurnObservations(customers, labels.Labels))
		if err != nil {
			return fmt.Errorf("流失率序列: %w", err)
		}
		revenue, err = forecast.NewForecaster(p.cfg.Forecast.Revenue, forecast.ClampNonNegative).
			Forecast(forecast.AggregateMonthly(report.RevenueObservations(ds), forecast.AggregateSum))
		if err != nil {
			return fmt.Errorf("收入序列: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(run.ID, StageAssembly, func() error {
		scored := make([]report.ScoredCustomer, len(customers))
		for i, c := range customers {
			scored[i] = report.ScoredCustomer{
				ID:          c.ID,
				Country:     c.Country,
				Category:    c.Category,
				Segment:     segments.Assignments[i],
				Probability: probs[i],
			}
		}
		result.Churn = report.AssembleChurnReport(report.ChurnInput{
			Customers: scored,
			Trend:     churnTrend,
			TopN:      p.cfg.Report.TopCustomers,
		})
		result.Sales = report.AssembleSalesReport(ds, revenue, report.SalesOptions{
			TopCategories: p.cfg.Report.TopCategories,
			TopProducts:   p.cfg.Report.TopProducts,
		})

		churnJSON, err := json.Marshal(result.Churn)
		if err != nil {
			return fmt.Errorf("序列化流失报表失败: %w", err)
		}
		salesJSON, err := json.Marshal(result.Sales)
		if err != nil {
			return fmt.Errorf("序列化销售报表失败: %w", err)
		}
		result.Reports = map[string][]byte{report.KindChurn: churnJSON, report.KindSales: salesJSON}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Artifacts = &Artifacts{
		Features: FeatureArtifact{State: churnFS.State, Anchor: ds.Anchor},
		Model:    model.State(),
	}
	err = p.stage(run.ID, StagePublish, func() error {
		if p.runs != nil {
			encoded, err := result.Artifacts.Encode()
			if err != nil {
				return err
			}
			if err := p.runs.SaveArtifacts(ctx, run.ID, encoded); err != nil {
				return err
			}
		}
		if p.publisher != nil {
			return p.publisher.Publish(ctx, run.ID, models.SnapshotSourcePipeline, result.Reports)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Metrics = model.Metrics
	result.Labels = labels
	result.Segmentation = segments
	return result, nil
}

// ChurnObservations 以客户最后购买月份为时间点的流失标签观测
func ChurnObservations(customers []dataset.Customer, labels []int) []forecast.Point {
	obs := make([]forecast.Observation, 0, len(customers))
	for i, c := range customers {
		if !c.LastPurchaseDate.Valid {
			continue
		}
		obs = append(obs, forecast.Observation{Date: c.LastPurchaseDate.Time, Value: float64(labels[i])})
	}
	return forecast.AggregateMonthly(obs, forecast.AggregateMean)
}
