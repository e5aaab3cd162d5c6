/*
 * @module service/features/scaler
 * @description 标准化：减均值除以总体标准差，统计量可导出复用
 * @architecture 值对象 - 拟合后只读
 * @documentReference DESIGN.md
 * @rules 标准差为 0 的列缩放系数取 1
 * @dependencies gonum.org/v1/gonum/stat
 * @refs service/classifier/train.go, service/segmentation/segmenter.go
 */

package features

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ScalerState 标准化器可持久化状态
type ScalerState struct {
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
}

// StandardScaler 按列标准化
type StandardScaler struct {
	means  []float64
	scales []float64
}

// NewStandardScalerFromState 从持久化状态恢复
func NewStandardScalerFromState(state ScalerState) (*StandardScaler, error) {
	if len(state.Means) != len(state.Scales) {
		return nil, fmt.Errorf("标准化器状态不一致: %d 个均值, %d 个缩放系数", len(state.Means), len(state.Scales))
	}
	return &StandardScaler{
		means:  append([]float64(nil), state.Means...),
		scales: append([]float64(nil), state.Scales...),
	}, nil
}

// Fit 在样本矩阵（行 × 列）上拟合
func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("标准化器不能在空样本上拟合")
	}
	cols := len(x[0])
	s.means = make([]float64, cols)
	s.scales = make([]float64, cols)
	column := make([]float64, len(x))
	for j := 0; j < cols; j++ {
		for i := range x {
			column[i] = x[i][j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		s.means[j] = mean
		if std == 0 {
			std = 1
		}
		s.scales[j] = std
	}
	return nil
}

// Transform 返回标准化后的新矩阵，不修改输入
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.means) {
			return nil, fmt.Errorf("第 %d 行有 %d 列，标准化器拟合时为 %d 列", i, len(row), len(s.means))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.means[j]) / s.scales[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// FitTransform 拟合并转换
func (s *StandardScaler) FitTransform(x [][]float64) ([][]float64, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x)
}

// State 导出拟合状态
func (s *StandardScaler) State() ScalerState {
	return ScalerState{
		Means:  append([]float64(nil), s.means...),
		Scales: append([]float64(nil), s.scales...),
	}
}
