package segmentation

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// ErrSilhouetteUndefined 簇数不在 [2, n-1] 内时轮廓系数无定义
var ErrSilhouetteUndefined = errors.New("轮廓系数无定义")

// Silhouette 平均轮廓系数
// sampleSize > 0 且小于样本数时，以 seed 抽样后在样本上计算
func Silhouette(x [][]float64, labels []int, sampleSize int, seed int64) (float64, error) {
	if len(x) != len(labels) {
		return 0, fmt.Errorf("样本数 %d 与标签数 %d 不一致", len(x), len(labels))
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	if sampleSize > 0 && sampleSize < len(x) {
		rng := rand.New(rand.NewSource(seed))
		idx = rng.Perm(len(x))[:sampleSize]
	}

	clusters := make(map[int]int)
	for _, i := range idx {
		clusters[labels[i]]++
	}
	k := len(clusters)
	if k < 2 || k > len(idx)-1 {
		return 0, fmt.Errorf("%w: %d 个簇, %d 个样本", ErrSilhouetteUndefined, k, len(idx))
	}

	total := 0.0
	sums := make(map[int]float64, k)
	for _, i := range idx {
		for c := range sums {
			delete(sums, c)
		}
		for _, j := range idx {
			if i == j {
				continue
			}
			sums[labels[j]] += floats.Distance(x[i], x[j], 2)
		}
		own := labels[i]
		if clusters[own] == 1 {
			continue
		}
		a := sums[own] / float64(clusters[own]-1)
		b := -1.0
		for c, size := range clusters {
			if c == own {
				continue
			}
			if mean := sums[c] / float64(size); b < 0 || mean < b {
				b = mean
			}
		}
		den := a
		if b > den {
			den = b
		}
		if den > 0 {
			total += (b - a) / den
		}
	}
	return total / float64(len(idx)), nil
}
