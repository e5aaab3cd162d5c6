/*
 * @module service/forecast/series
 * @description 月度时间序列：按月聚合观测值（均值或求和），保证周期严格递增
 * @architecture 值对象
 * @documentReference DESIGN.md
 * @stateFlow []Observation -> 按 YearMonth 分组 -> 排序 -> (求和时补齐空月为 0) -> []Point
 * @rules 求和聚合的空月补 0；均值聚合的空月跳过
 * @dependencies sort
 * @refs service/forecast/forecaster.go
 */

package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrEmptySeries 没有可用于拟合的历史点
	ErrEmptySeries = errors.New("时间序列为空")
	// ErrUnorderedSeries 历史序列不是严格递增
	ErrUnorderedSeries = errors.New("时间序列周期不是严格递增")
)

// Aggregation 月度聚合方式
type Aggregation int

const (
	// AggregateMean 月内均值
	AggregateMean Aggregation = iota
	// AggregateSum 月内求和
	AggregateSum
)

// Observation 带日期的观测值
type Observation struct {
	Date  time.Time
	Value float64
}

// Point 时间序列点
type Point struct {
	Period     YearMonth `json:"period"`
	Value      float64   `json:"value"`
	IsForecast bool      `json:"is_forecast"`
}

// AggregateMonthly 按月聚合，NaN 观测被忽略
func AggregateMonthly(obs []Observation, agg Aggregation) []Point {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, o := range obs {
		if math.IsNaN(o.Value) || o.Date.IsZero() {
			continue
		}
		idx := FromTime(o.Date).Index()
		sums[idx] += o.Value
		counts[idx]++
	}
	if len(counts) == 0 {
		return nil
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var points []Point
	if agg == AggregateSum {
		for i := keys[0]; i <= keys[len(keys)-1]; i++ {
			points = append(points, Point{Period: fromIndex(i), Value: sums[i]})
		}
		return points
	}
	for _, k := range keys {
		points = append(points, Point{Period: fromIndex(k), Value: sums[k] / float64(counts[k])})
	}
	return points
}

// Validate 检查序列非空且周期严格递增
func Validate(points []Point) error {
	if len(points) == 0 {
		return ErrEmptySeries
	}
	for i := 1; i < len(points); i++ {
		if !points[i-1].Period.Before(points[i].Period) {
			return fmt.Errorf("%w: %s 之后是 %s", ErrUnorderedSeries, points[i-1].Period, points[i].Period)
		}
	}
	return nil
}
