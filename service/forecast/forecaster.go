/*
 * @module service/forecast/forecaster
 * @description 在历史月度序列后追加固定长度的预测段
 * @architecture 分层架构 - 模型层
 * @documentReference DESIGN.md
 * @stateFlow 历史点(副本) -> AdditiveModel.Fit -> 紧随最后一个历史月的 horizon 个月 -> Clamp -> 合并序列
 * @rules
 *   - 历史点原样输出，不被拟合值替换
 *   - 预测段与历史段无间隔、无重叠
 * @dependencies insight-service/service/config
 * @refs service/report
 */

package forecast

import (
	"fmt"

	"insight-service/service/config"
)

// Forecaster 单条序列的预测器
type Forecaster struct {
	cfg   config.SeriesConfig
	clamp func(float64) float64
}

// NewForecaster 创建预测器，clamp 为 nil 时不限制预测值
func NewForecaster(cfg config.SeriesConfig, clamp func(float64) float64) *Forecaster {
	return &Forecaster{cfg: cfg, clamp: clamp}
}

// Horizon 预测月数
func (f *Forecaster) Horizon() int {
	return f.cfg.Horizon
}

// Forecast 返回历史点加预测点
func (f *Forecaster) Forecast(history []Point) ([]Point, error) {
	if err := Validate(history); err != nil {
		return nil, err
	}
	if f.cfg.Horizon < 0 {
		return nil, fmt.Errorf("预测月数不能为负: %d", f.cfg.Horizon)
	}
	model := NewAdditiveModel(ModelOptions{
		YearlySeasonality:     f.cfg.YearlySeasonality,
		SeasonalityOrder:      f.cfg.SeasonalityOrder,
		ChangepointPriorScale: f.cfg.ChangepointPriorScale,
		MaxChangepoints:       f.cfg.MaxChangepoints,
	})
	if err := model.Fit(history); err != nil {
		return nil, err
	}

	out := make([]Point, 0, len(history)+f.cfg.Horizon)
	for _, p := range history {
		p.IsForecast = false
		out = append(out, p)
	}
	last := history[len(history)-1].Period
	for h := 1; h <= f.cfg.Horizon; h++ {
		period := last.Add(h)
		v, err := model.Predict(period)
		if err != nil {
			return nil, err
		}
		if f.clamp != nil {
			v = f.clamp(v)
		}
		out = append(out, Point{Period: period, Value: v, IsForecast: true})
	}
	return out, nil
}

// ClampRange 将值限制在 [lo, hi]
func ClampRange(lo, hi float64) func(float64) float64 {
	return func(v float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
}

// ClampNonNegative 负值截断为 0
func ClampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
