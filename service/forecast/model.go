/*
 * @module service/forecast/model
 * @description 加法时间序列模型：分段线性趋势 + 年度傅里叶季节项，带先验的岭回归求解
 * @architecture 纯计算
 * @documentReference DESIGN.md
 * @stateFlow 历史点 -> 时间归一化到 [0,1]、y 按绝对值最大值缩放 -> 设计矩阵 -> (AᵀA + Λ)β = Aᵀy -> 外推
 * @rules
 *   - 变点均匀放在前 80% 的历史区间内，惩罚强度由 changepoint_prior_scale 决定
 *   - 季节项以日历月份为相位，跨年外推保持对齐
 *   - 不含周季节项
 * @dependencies gonum.org/v1/gonum/mat
 * @refs service/forecast/forecaster.go
 */

package forecast

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// 先验方差折算系数，对应观测噪声方差的假设
	noiseVariance = 0.01
	// 季节项先验尺度
	seasonalityPriorScale = 10.0
	// 趋势参数的数值稳定项
	jitter = 1e-9
	// 变点覆盖的历史比例
	changepointRange = 0.8
)

// ModelOptions 模型选项
type ModelOptions struct {
	YearlySeasonality     bool
	SeasonalityOrder      int
	ChangepointPriorScale float64
	MaxChangepoints       int
}

// AdditiveModel 加法模型
type AdditiveModel struct {
	opts         ModelOptions
	start        int
	span         float64
	scale        float64
	changepoints []float64
	beta         []float64
	constant     float64
	fitted       bool
}

// NewAdditiveModel 创建模型
func NewAdditiveModel(opts ModelOptions) *AdditiveModel {
	return &AdditiveModel{opts: opts}
}

// changepointPositions 归一化时间轴上的变点位置
func (m *AdditiveModel) changepointPositions() []float64 {
	return append([]float64(nil), m.changepoints...)
}

func (m *AdditiveModel) timeOf(ym YearMonth) float64 {
	return float64(ym.Index()-m.start) / m.span
}

func (m *AdditiveModel) row(ym YearMonth) []float64 {
	t := m.timeOf(ym)
	r := []float64{1, t}
	for _, s := range m.changepoints {
		r = append(r, math.Max(0, t-s))
	}
	if m.opts.YearlySeasonality {
		month := float64(ym.Index() % 12)
		for k := 1; k <= m.opts.SeasonalityOrder; k++ {
			angle := 2 * math.Pi * float64(k) * month / 12
			r = append(r, math.Sin(angle), math.Cos(angle))
		}
	}
	return r
}

// Fit 拟合历史序列
func (m *AdditiveModel) Fit(history []Point) error {
	if err := Validate(history); err != nil {
		return err
	}
	n := len(history)
	m.start = history[0].Period.Index()
	m.span = float64(history[n-1].Period.Index() - m.start)

	m.scale = 0
	for _, p := range history {
		if a := math.Abs(p.Value); a > m.scale {
			m.scale = a
		}
	}
	if m.scale == 0 {
		m.scale = 1
	}

	// 单点序列无法估计趋势，退化为常数
	if n == 1 || m.span == 0 {
		m.constant = history[0].Value
		m.beta = nil
		m.fitted = true
		return nil
	}

	m.changepoints = nil
	cps := m.opts.MaxChangepoints
	if limit := int(math.Floor(float64(n-1) * changepointRange)); cps > limit {
		cps = limit
	}
	for j := 1; j <= cps; j++ {
		m.changepoints = append(m.changepoints, changepointRange*float64(j)/float64(cps+1))
	}

	first := m.row(history[0].Period)
	p := len(first)
	a := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, pt := range history {
		a.SetRow(i, m.row(pt.Period))
		y.SetVec(i, pt.Value/m.scale)
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	tau := m.opts.ChangepointPriorScale
	if tau <= 0 {
		tau = 0.05
	}
	for j := 0; j < p; j++ {
		penalty := jitter
		switch {
		case j >= 2 && j < 2+len(m.changepoints):
			penalty = noiseVariance / (tau * tau)
		case j >= 2+len(m.changepoints):
			penalty = noiseVariance / (seasonalityPriorScale * seasonalityPriorScale)
		}
		ata.Set(j, j, ata.At(j, j)+penalty)
	}
	var aty mat.VecDense
	aty.MulVec(a.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&ata, &aty); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("求解趋势模型失败: %w", err)
		}
		slog.Warn("趋势模型矩阵病态", "condition", float64(cond))
	}
	m.beta = make([]float64, p)
	for j := range m.beta {
		m.beta[j] = beta.AtVec(j) * m.scale
	}
	m.fitted = true
	return nil
}

// Predict 预测指定月份的值
func (m *AdditiveModel) Predict(ym YearMonth) (float64, error) {
	if !m.fitted {
		return 0, fmt.Errorf("模型尚未拟合")
	}
	if m.beta == nil {
		return m.constant, nil
	}
	r := m.row(ym)
	v := 0.0
	for j, x := range r {
		v += x * m.beta[j]
	}
	return v, nil
}
