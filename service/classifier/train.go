/*
 * @module service/classifier/train
 * @description 流失分类器训练与评分：分层划分、训练集上拟合标准化器、训练随机森林、留出集诊断、全量评分
 * @architecture 分层架构 - 模型层
 * @documentReference DESIGN.md
 * @stateFlow (X, y) -> StratifiedSplit -> Scaler.Fit(train 数值列) -> Forest.Fit(train) -> Evaluate(test) -> 全量概率
 * @rules
 *   - 概率输出为 [0,100]，报表保留两位小数
 *   - 诊断指标不决定模型是否被使用
 *   - 模型状态可序列化，加载后只读
 * @dependencies insight-service/service/features, insight-service/service/config
 * @refs service/pipeline/pipeline.go, service/pipeline/scorer.go
 */

package classifier

import (
	"context"
	"fmt"

	"insight-service/service/config"
	"insight-service/service/features"
	"insight-service/service/utils"
)

// Options 训练选项
type Options struct {
	TestFraction float64
	Forest       ForestParams
}

// OptionsFromConfig 从配置构造训练选项
func OptionsFromConfig(cfg config.ClassifierConfig) Options {
	return Options{
		TestFraction: cfg.TestFraction,
		Forest: ForestParams{
			Trees:           cfg.Trees,
			MaxDepth:        cfg.MaxDepth,
			MinSamplesSplit: cfg.MinSamplesSplit,
			ClassBalanced:   cfg.ClassBalanced,
			Seed:            cfg.Seed,
			Workers:         cfg.Workers,
		},
	}
}

// ModelState 可持久化的模型状态
type ModelState struct {
	NumericCount int                  `json:"numeric_count"`
	Scaler       features.ScalerState `json:"scaler"`
	Forest       *RandomForest        `json:"forest"`
}

// Model 训练好的流失模型：前 NumericCount 列经标准化，其余列（类别编码）原样输入
type Model struct {
	numericCount int
	scaler       *features.StandardScaler
	forest       *RandomForest
	Metrics      Metrics
}

// NewModelFromState 从持久化状态恢复模型
func NewModelFromState(state ModelState) (*Model, error) {
	if state.Forest == nil || len(state.Forest.Trees) == 0 {
		return nil, fmt.Errorf("模型状态缺少森林")
	}
	scaler, err := features.NewStandardScalerFromState(state.Scaler)
	if err != nil {
		return nil, err
	}
	return &Model{numericCount: state.NumericCount, scaler: scaler, forest: state.Forest}, nil
}

// State 导出模型状态
func (m *Model) State() ModelState {
	return ModelState{NumericCount: m.numericCount, Scaler: m.scaler.State(), Forest: m.forest}
}

// Forest 底层森林
func (m *Model) Forest() *RandomForest {
	return m.forest
}

// Train 训练模型
func Train(ctx context.Context, x [][]float64, y []int, numericCount int, opts Options) (*Model, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("样本数 %d 与标签数 %d 不一致", len(x), len(y))
	}
	trainIdx, testIdx, err := StratifiedSplit(y, opts.TestFraction, opts.Forest.Seed)
	if err != nil {
		return nil, err
	}

	m := &Model{numericCount: numericCount, scaler: &features.StandardScaler{}}
	trainNumeric := make([][]float64, len(trainIdx))
	for k, i := range trainIdx {
		trainNumeric[k] = x[i][:numericCount]
	}
	if err := m.scaler.Fit(trainNumeric); err != nil {
		return nil, err
	}

	scaled, err := m.transform(x)
	if err != nil {
		return nil, err
	}
	trainX := make([][]float64, len(trainIdx))
	trainY := make([]int, len(trainIdx))
	for k, i := range trainIdx {
		trainX[k] = scaled[i]
		trainY[k] = y[i]
	}

	m.forest = NewRandomForest(opts.Forest)
	if err := m.forest.Fit(ctx, trainX, trainY); err != nil {
		return nil, fmt.Errorf("训练随机森林失败: %w", err)
	}

	testProbs := make([]float64, len(testIdx))
	testY := make([]int, len(testIdx))
	for k, i := range testIdx {
		p, err := m.forest.PredictProba(scaled[i])
		if err != nil {
			return nil, err
		}
		testProbs[k] = p
		testY[k] = y[i]
	}
	m.Metrics = Evaluate(testProbs, testY)
	m.Metrics.TrainSize = len(trainIdx)
	for _, l := range y {
		m.Metrics.Positives += l
	}
	return m, nil
}

func (m *Model) transform(x [][]float64) ([][]float64, error) {
	numeric := make([][]float64, len(x))
	for i, row := range x {
		if len(row) < m.numericCount {
			return nil, fmt.Errorf("第 %d 行只有 %d 列，需要至少 %d 个数值列", i, len(row), m.numericCount)
		}
		numeric[i] = row[:m.numericCount]
	}
	scaledNumeric, err := m.scaler.Transform(numeric)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		full := make([]float64, 0, len(row))
		full = append(full, scaledNumeric[i]...)
		full = append(full, row[m.numericCount:]...)
		out[i] = full
	}
	return out, nil
}

// PredictProbability 单个客户的流失概率，范围 [0,100]，保留两位小数
func (m *Model) PredictProbability(row []float64) (float64, error) {
	probs, err := m.PredictAll([][]float64{row})
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}

// PredictAll 全量评分，范围 [0,100]，保留两位小数
func (m *Model) PredictAll(x [][]float64) ([]float64, error) {
	scaled, err := m.transform(x)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(scaled))
	for i, row := range scaled {
		p, err := m.forest.PredictProba(row)
		if err != nil {
			return nil, err
		}
		out[i] = utils.Round(p*100, 2)
	}
	return out, nil
}
