/*
 * @module service/segmentation/kmeans
 * @description k-means 聚类：k-means++ 初始化、多次随机初始化取惯性最小者
 * @architecture 纯计算，无共享状态
 * @documentReference DESIGN.md
 * @stateFlow X -> (n_init 次) kmeans++ 初始化 -> Lloyd 迭代 -> 最小惯性结果
 * @rules
 *   - 固定种子保证结果可复现
 *   - 空簇重新放置到离其当前中心最远的点
 *   - 收敛容差相对于各特征方差均值
 * @dependencies math/rand
 * @refs service/segmentation/selection.go
 */

package segmentation

import (
	"fmt"
	"math"
	"math/rand"
)

// KMeans k-means 参数
type KMeans struct {
	K             int
	Inits         int
	MaxIterations int
	Tolerance     float64
	Seed          int64
}

// Clustering 聚类结果
type Clustering struct {
	K          int
	Labels     []int
	Centroids  [][]float64
	Inertia    float64
	Iterations int
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// Fit 聚类
func (km KMeans) Fit(x [][]float64) (*Clustering, error) {
	n := len(x)
	if km.K < 1 {
		return nil, fmt.Errorf("簇数必须为正: %d", km.K)
	}
	if km.K > n {
		return nil, fmt.Errorf("簇数 %d 超过样本数 %d", km.K, n)
	}
	inits := km.Inits
	if inits < 1 {
		inits = 1
	}
	maxIter := km.MaxIterations
	if maxIter < 1 {
		maxIter = 300
	}
	tol := km.Tolerance * meanVariance(x)

	rng := rand.New(rand.NewSource(km.Seed))
	var best *Clustering
	for run := 0; run < inits; run++ {
		centroids := initPlusPlus(x, km.K, rng)
		c := lloyd(x, centroids, maxIter, tol)
		if best == nil || c.Inertia < best.Inertia {
			best = c
		}
	}
	return best, nil
}

func meanVariance(x [][]float64) float64 {
	if len(x) == 0 {
		return 0
	}
	d := len(x[0])
	total := 0.0
	for j := 0; j < d; j++ {
		mean := 0.0
		for _, row := range x {
			mean += row[j]
		}
		mean /= float64(len(x))
		v := 0.0
		for _, row := range x {
			v += (row[j] - mean) * (row[j] - mean)
		}
		total += v / float64(len(x))
	}
	return total / float64(d)
}

// initPlusPlus k-means++ 初始化：按到最近已选中心距离平方的概率抽取下一个中心
func initPlusPlus(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(x)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), x[rng.Intn(n)]...))
	closest := make([]float64, n)
	for i := range x {
		closest[i] = sqDist(x[i], centroids[0])
	}
	for len(centroids) < k {
		total := 0.0
		for _, d := range closest {
			total += d
		}
		next := 0
		if total == 0 {
			next = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			acc := 0.0
			next = n - 1
			for i, d := range closest {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
			}
		}
		c := append([]float64(nil), x[next]...)
		centroids = append(centroids, c)
		for i := range x {
			if d := sqDist(x[i], c); d < closest[i] {
				closest[i] = d
			}
		}
	}
	return centroids
}

func assign(x [][]float64, centroids [][]float64, labels []int) float64 {
	inertia := 0.0
	for i, row := range x {
		best, bestD := 0, math.Inf(1)
		for c, centroid := range centroids {
			if d := sqDist(row, centroid); d < bestD {
				best, bestD = c, d
			}
		}
		labels[i] = best
		inertia += bestD
	}
	return inertia
}

func lloyd(x [][]float64, centroids [][]float64, maxIter int, tol float64) *Clustering {
	n, k, d := len(x), len(centroids), len(x[0])
	labels := make([]int, n)
	iter := 0
	for iter = 1; iter <= maxIter; iter++ {
		assign(x, centroids, labels)

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, d)
		}
		for i, row := range x {
			counts[labels[i]]++
			for j, v := range row {
				sums[labels[i]][j] += v
			}
		}
		relocateEmpty(x, centroids, labels, counts, sums)

		shift := 0.0
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			next := make([]float64, d)
			for j := range next {
				next[j] = sums[c][j] / float64(counts[c])
			}
			shift += sqDist(next, centroids[c])
			centroids[c] = next
		}
		if shift <= tol {
			break
		}
	}
	if iter > maxIter {
		iter = maxIter
	}
	inertia := assign(x, centroids, labels)
	return &Clustering{K: k, Labels: labels, Centroids: centroids, Inertia: inertia, Iterations: iter}
}

// relocateEmpty 将空簇移动到离所属中心最远的点
func relocateEmpty(x [][]float64, centroids [][]float64, labels []int, counts []int, sums [][]float64) {
	for c := range counts {
		if counts[c] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, row := range x {
			if counts[labels[i]] <= 1 {
				continue
			}
			if dd := sqDist(row, centroids[labels[i]]); dd > farD {
				far, farD = i, dd
			}
		}
		if far < 0 {
			continue
		}
		old := labels[far]
		counts[old]--
		for j, v := range x[far] {
			sums[old][j] -= v
		}
		labels[far] = c
		counts[c] = 1
		copy(sums[c], x[far])
	}
}
