/*
 * @module service/classifier/forest
 * @description 随机森林：自助采样 + 特征子采样的决策树集成，按类别平衡加权
 * @architecture 并行训练 - errgroup 限制并发，每棵树使用独立种子，结果与并发度无关
 * @documentReference DESIGN.md
 * @stateFlow (X, y) -> 类别权重 -> 每棵树: 自助采样 -> growTree -> 概率取平均
 * @rules
 *   - 类别平衡权重 w_c = n / (2 * n_c)，在整个训练集上计算
 *   - 拟合完成后只读，可并发预测
 * @dependencies golang.org/x/sync/errgroup
 * @refs service/classifier/train.go
 */

package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestParams 森林超参数
type ForestParams struct {
	Trees           int   `json:"trees"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MaxFeatures     int   `json:"max_features"`
	ClassBalanced   bool  `json:"class_balanced"`
	Seed            int64 `json:"seed"`
	Workers         int   `json:"-"`
}

// RandomForest 随机森林分类器
type RandomForest struct {
	Params    ForestParams `json:"params"`
	NFeatures int          `json:"n_features"`
	Trees     []Tree       `json:"trees"`
}

// NewRandomForest 创建未训练的森林
func NewRandomForest(params ForestParams) *RandomForest {
	return &RandomForest{Params: params}
}

// ClassWeights 类别平衡权重
func ClassWeights(y []int, balanced bool) [2]float64 {
	if !balanced {
		return [2]float64{1, 1}
	}
	var counts [2]int
	for _, l := range y {
		counts[l]++
	}
	var w [2]float64
	for c := 0; c < 2; c++ {
		if counts[c] > 0 {
			w[c] = float64(len(y)) / (2 * float64(counts[c]))
		}
	}
	return w
}

func treeSeed(base int64, i int) int64 {
	return base*1000003 + int64(i)*7919 + 1
}

// Fit 训练森林
func (f *RandomForest) Fit(ctx context.Context, x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("训练样本与标签数量不一致: %d vs %d", len(x), len(y))
	}
	if f.Params.Trees <= 0 {
		return fmt.Errorf("树的数量必须为正: %d", f.Params.Trees)
	}
	f.NFeatures = len(x[0])
	maxFeatures := f.Params.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(f.NFeatures)))))
	}
	minSplit := f.Params.MinSamplesSplit
	if minSplit < 2 {
		minSplit = 2
	}
	params := treeParams{maxDepth: f.Params.MaxDepth, minSamplesSplit: minSplit, maxFeatures: maxFeatures}
	cw := ClassWeights(y, f.Params.ClassBalanced)

	workers := f.Params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	trees := make([]Tree, f.Params.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	n := len(x)
	for t := range trees {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(treeSeed(f.Params.Seed, t)))
			count := make([]int, n)
			for k := 0; k < n; k++ {
				count[rng.Intn(n)]++
			}
			weight := make([]float64, n)
			idx := make([]int, 0, n)
			for i, c := range count {
				if c == 0 {
					continue
				}
				weight[i] = float64(c) * cw[y[i]]
				idx = append(idx, i)
			}
			trees[t] = growTree(x, y, weight, count, idx, params, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees
	return nil
}

// PredictProba 正类概率（0-1），各树概率的平均
func (f *RandomForest) PredictProba(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("模型尚未训练")
	}
	if len(x) != f.NFeatures {
		return 0, fmt.Errorf("特征维度为 %d，模型需要 %d", len(x), f.NFeatures)
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}
