/*
 * @module service/config/pipeline_config
 * @description 分析流水线配置，覆盖特征构建、标签推导、分类器、分群、预测与报表各阶段参数
 * @architecture 分层架构 - 配置层
 * @documentReference DESIGN.md
 * @stateFlow 默认值 -> 配置文件(yaml/toml/json) -> 环境变量覆盖 -> 校验
 * @rules 阈值、状态集合、超参数均为配置项，不在代码中硬编码
 * @dependencies gopkg.in/yaml.v3, github.com/pelletier/go-toml/v2, github.com/spf13/cast
 * @refs service/pipeline/pipeline.go
 */

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// PipelineConfig 流水线配置
type PipelineConfig struct {
	Dataset      DatasetConfig      `json:"dataset" yaml:"dataset" toml:"dataset"`
	Labeling     LabelingConfig     `json:"labeling" yaml:"labeling" toml:"labeling"`
	Classifier   ClassifierConfig   `json:"classifier" yaml:"classifier" toml:"classifier"`
	Segmentation SegmentationConfig `json:"segmentation" yaml:"segmentation" toml:"segmentation"`
	Forecast     ForecastConfig     `json:"forecast" yaml:"forecast" toml:"forecast"`
	Report       ReportConfig       `json:"report" yaml:"report" toml:"report"`
}

// DatasetConfig 数据集解析配置
type DatasetConfig struct {
	// 首选格式解析失败比例超过该值时，使用日优先格式重试
	DateRetryRatio float64 `json:"date_retry_ratio" yaml:"date_retry_ratio" toml:"date_retry_ratio"`
	// 重试后仍无法解析的比例上限，超过则视为输入错误
	MaxDateFailureRatio float64 `json:"max_date_failure_ratio" yaml:"max_date_failure_ratio" toml:"max_date_failure_ratio"`
	// 输入文件编码: utf-8, gbk, latin1
	Encoding string `json:"encoding" yaml:"encoding" toml:"encoding"`
}

// LabelingConfig 流失标签推导配置
type LabelingConfig struct {
	InactiveDaysThreshold float64  `json:"inactive_days_threshold" yaml:"inactive_days_threshold" toml:"inactive_days_threshold"`
	ChurnStatuses         []string `json:"churn_statuses" yaml:"churn_statuses" toml:"churn_statuses"`
	// 可选的自定义规则脚本路径（yaegi 解释执行）
	RuleScriptPath string `json:"rule_script_path" yaml:"rule_script_path" toml:"rule_script_path"`
}

// ClassifierConfig 随机森林分类器配置
type ClassifierConfig struct {
	TestFraction        float64  `json:"test_fraction" yaml:"test_fraction" toml:"test_fraction"`
	Seed                int64    `json:"seed" yaml:"seed" toml:"seed"`
	Trees               int      `json:"trees" yaml:"trees" toml:"trees"`
	MaxDepth            int      `json:"max_depth" yaml:"max_depth" toml:"max_depth"` // 0 表示不限制
	MinSamplesSplit     int      `json:"min_samples_split" yaml:"min_samples_split" toml:"min_samples_split"`
	ClassBalanced       bool     `json:"class_balanced" yaml:"class_balanced" toml:"class_balanced"`
	Workers             int      `json:"workers" yaml:"workers" toml:"workers"` // 0 表示 GOMAXPROCS
	NumericFeatures     []string `json:"numeric_features" yaml:"numeric_features" toml:"numeric_features"`
	CategoricalFeatures []string `json:"categorical_features" yaml:"categorical_features" toml:"categorical_features"`
}

// SegmentationConfig 客户分群配置
type SegmentationConfig struct {
	Candidates           []int    `json:"candidates" yaml:"candidates" toml:"candidates"`
	Inits                int      `json:"inits" yaml:"inits" toml:"inits"`
	MaxIterations        int      `json:"max_iterations" yaml:"max_iterations" toml:"max_iterations"`
	Tolerance            float64  `json:"tolerance" yaml:"tolerance" toml:"tolerance"`
	Seed                 int64    `json:"seed" yaml:"seed" toml:"seed"`
	SilhouetteSampleSize int      `json:"silhouette_sample_size" yaml:"silhouette_sample_size" toml:"silhouette_sample_size"`
	Features             []string `json:"features" yaml:"features" toml:"features"`
}

// SeriesConfig 单条时间序列的预测配置
type SeriesConfig struct {
	Horizon               int     `json:"horizon" yaml:"horizon" toml:"horizon"`
	YearlySeasonality     bool    `json:"yearly_seasonality" yaml:"yearly_seasonality" toml:"yearly_seasonality"`
	SeasonalityOrder      int     `json:"seasonality_order" yaml:"seasonality_order" toml:"seasonality_order"`
	ChangepointPriorScale float64 `json:"changepoint_prior_scale" yaml:"changepoint_prior_scale" toml:"changepoint_prior_scale"`
	MaxChangepoints       int     `json:"max_changepoints" yaml:"max_changepoints" toml:"max_changepoints"`
}

// ForecastConfig 预测配置
type ForecastConfig struct {
	Churn   SeriesConfig `json:"churn" yaml:"churn" toml:"churn"`
	Revenue SeriesConfig `json:"revenue" yaml:"revenue" toml:"revenue"`
}

// ReportConfig 报表配置
type ReportConfig struct {
	TopCustomers  int `json:"top_customers" yaml:"top_customers" toml:"top_customers"`
	TopCategories int `json:"top_categories" yaml:"top_categories" toml:"top_categories"`
	TopProducts   int `json:"top_products" yaml:"top_products" toml:"top_products"`
}

// Default 返回默认流水线配置
func Default() PipelineConfig {
	return PipelineConfig{
		Dataset: DatasetConfig{
			DateRetryRatio:      0,
			MaxDateFailureRatio: 0.5,
			Encoding:            "utf-8",
		},
		Labeling: LabelingConfig{
			InactiveDaysThreshold: 180,
			ChurnStatuses:         []string{"cancelled", "paused"},
		},
		Classifier: ClassifierConfig{
			TestFraction:    0.2,
			Seed:            42,
			Trees:           100,
			MinSamplesSplit: 2,
			ClassBalanced:   true,
			NumericFeatures: []string{
				"age", "tenure_days", "recency_days", "purchase_frequency", "amount",
				"cancellations_count", "ratings", "unit_price", "quantity",
			},
			CategoricalFeatures: []string{"gender", "country", "category"},
		},
		Segmentation: SegmentationConfig{
			Candidates:           []int{2, 3, 4, 5},
			Inits:                10,
			MaxIterations:        300,
			Tolerance:            1e-4,
			Seed:                 42,
			SilhouetteSampleSize: 4000,
			Features:             []string{"age", "tenure_days", "recency_days", "purchase_frequency", "amount"},
		},
		Forecast: ForecastConfig{
			Churn: SeriesConfig{
				Horizon:               6,
				YearlySeasonality:     false,
				SeasonalityOrder:      3,
				ChangepointPriorScale: 0.05,
				MaxChangepoints:       25,
			},
			Revenue: SeriesConfig{
				Horizon:               12,
				YearlySeasonality:     true,
				SeasonalityOrder:      3,
				ChangepointPriorScale: 0.01,
				MaxChangepoints:       25,
			},
		},
		Report: ReportConfig{
			TopCustomers:  10,
			TopCategories: 10,
			TopProducts:   10,
		},
	}
}

// LoadPipelineConfig 加载配置：默认值 -> 文件 -> 环境变量
// path 为空时只使用默认值和环境变量
func LoadPipelineConfig(path string) (PipelineConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := decodeConfig(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("解析配置文件失败 [%s]: %w", path, err)
		}
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeConfig(path string, data []byte, cfg *PipelineConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("不支持的配置格式: %s", filepath.Ext(path))
	}
}

// ApplyEnvOverrides 使用 PIPELINE_* 环境变量覆盖配置
func ApplyEnvOverrides(cfg *PipelineConfig) error {
	var errs []error

	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := cast.ToFloat64E(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			i, err := cast.ToIntE(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			i, err := cast.ToInt64E(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}

	setFloat("PIPELINE_DATE_RETRY_RATIO", &cfg.Dataset.DateRetryRatio)
	setFloat("PIPELINE_MAX_DATE_FAILURE_RATIO", &cfg.Dataset.MaxDateFailureRatio)
	if v := os.Getenv("PIPELINE_INPUT_ENCODING"); v != "" {
		cfg.Dataset.Encoding = v
	}

	setFloat("PIPELINE_INACTIVE_DAYS", &cfg.Labeling.InactiveDaysThreshold)
	if v := os.Getenv("PIPELINE_CHURN_STATUSES"); v != "" {
		cfg.Labeling.ChurnStatuses = splitList(v)
	}
	if v := os.Getenv("PIPELINE_LABEL_SCRIPT"); v != "" {
		cfg.Labeling.RuleScriptPath = v
	}

	setFloat("PIPELINE_TEST_FRACTION", &cfg.Classifier.TestFraction)
	setInt64("PIPELINE_SEED", &cfg.Classifier.Seed)
	setInt("PIPELINE_TREES", &cfg.Classifier.Trees)
	setInt("PIPELINE_WORKERS", &cfg.Classifier.Workers)

	if v := os.Getenv("PIPELINE_CLUSTER_CANDIDATES"); v != "" {
		var candidates []int
		for _, item := range splitList(v) {
			k, err := cast.ToIntE(item)
			if err != nil {
				errs = append(errs, fmt.Errorf("PIPELINE_CLUSTER_CANDIDATES: %w", err))
				continue
			}
			candidates = append(candidates, k)
		}
		cfg.Segmentation.Candidates = candidates
	}
	setInt64("PIPELINE_SEGMENT_SEED", &cfg.Segmentation.Seed)

	setInt("PIPELINE_CHURN_HORIZON", &cfg.Forecast.Churn.Horizon)
	setInt("PIPELINE_REVENUE_HORIZON", &cfg.Forecast.Revenue.Horizon)
	setInt("PIPELINE_TOP_N", &cfg.Report.TopCustomers)

	return errors.Join(errs...)
}

// Validate 校验配置
func (c PipelineConfig) Validate() error {
	var errs []error
	if c.Dataset.DateRetryRatio < 0 || c.Dataset.DateRetryRatio > 1 {
		errs = append(errs, fmt.Errorf("date_retry_ratio 必须在 [0,1] 之间"))
	}
	if c.Dataset.MaxDateFailureRatio < 0 || c.Dataset.MaxDateFailureRatio > 1 {
		errs = append(errs, fmt.Errorf("max_date_failure_ratio 必须在 [0,1] 之间"))
	}
	if c.Labeling.InactiveDaysThreshold < 0 {
		errs = append(errs, fmt.Errorf("inactive_days_threshold 不能为负数"))
	}
	if c.Classifier.TestFraction <= 0 || c.Classifier.TestFraction >= 1 {
		errs = append(errs, fmt.Errorf("test_fraction 必须在 (0,1) 之间"))
	}
	if c.Classifier.Trees <= 0 {
		errs = append(errs, fmt.Errorf("trees 必须大于 0"))
	}
	if len(c.Classifier.NumericFeatures)+len(c.Classifier.CategoricalFeatures) == 0 {
		errs = append(errs, fmt.Errorf("分类器特征列表不能为空"))
	}
	if len(c.Segmentation.Candidates) == 0 {
		errs = append(errs, fmt.Errorf("cluster candidates 不能为空"))
	}
	for _, k := range c.Segmentation.Candidates {
		if k < 1 {
			errs = append(errs, fmt.Errorf("非法的簇数候选值: %d", k))
		}
	}
	if len(c.Segmentation.Features) == 0 {
		errs = append(errs, fmt.Errorf("分群特征列表不能为空"))
	}
	if c.Forecast.Churn.Horizon < 0 || c.Forecast.Revenue.Horizon < 0 {
		errs = append(errs, fmt.Errorf("预测期数不能为负数"))
	}
	if c.Report.TopCustomers <= 0 {
		errs = append(errs, fmt.Errorf("top_customers 必须大于 0"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
