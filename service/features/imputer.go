package features

import (
	"math"
	"sort"
)

// Median 忽略 NaN 的中位数，偶数个时取中间两数均值；全部缺失时返回 0
func Median(values []float64) float64 {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	n := len(present)
	if n == 0 {
		return 0
	}
	sort.Float64s(present)
	if n%2 == 1 {
		return present[n/2]
	}
	return (present[n/2-1] + present[n/2]) / 2
}

// Impute 用 fill 替换 NaN，原地修改并返回替换个数
func Impute(values []float64, fill float64) int {
	replaced := 0
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = fill
			replaced++
		}
	}
	return replaced
}
