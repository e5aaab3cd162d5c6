/*
 * @module service/classifier/tree
 * @description 加权 Gini 的 CART 分类树，每个节点随机抽取候选特征
 * @architecture 扁平节点数组，便于 JSON 持久化
 * @documentReference DESIGN.md
 * @stateFlow (样本下标, 权重) -> 递归寻找最优切分 -> 叶节点保存正类加权比例
 * @rules 常量特征不计入候选特征数，继续抽取直到找到可切分特征或特征耗尽
 * @dependencies math/rand
 * @refs service/classifier/forest.go
 */

package classifier

import (
	"math/rand"
	"sort"
)

// Node 树节点；Feature 为 -1 表示叶节点
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Prob      float64 `json:"p"`
}

// Tree 决策树
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict 返回正类概率
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Prob
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// depth 树深度，单叶为 0
func (t *Tree) depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		l, r := walk(n.Left), walk(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
}

type grower struct {
	x      [][]float64
	y      []int
	weight []float64
	count  []int
	params treeParams
	rng    *rand.Rand
	nodes  []Node
}

// growTree 在 idx 指定的样本上生长一棵树，weight/count 为每个样本的权重与重复次数
func growTree(x [][]float64, y []int, weight []float64, count []int, idx []int, params treeParams, rng *rand.Rand) Tree {
	g := &grower{x: x, y: y, weight: weight, count: count, params: params, rng: rng}
	g.grow(idx, 0)
	return Tree{Nodes: g.nodes}
}

func (g *grower) grow(idx []int, depth int) int {
	var w0, w1 float64
	samples := 0
	for _, i := range idx {
		if g.y[i] == 1 {
			w1 += g.weight[i]
		} else {
			w0 += g.weight[i]
		}
		samples += g.count[i]
	}
	pos := len(g.nodes)
	prob := 0.0
	if w0+w1 > 0 {
		prob = w1 / (w0 + w1)
	}
	g.nodes = append(g.nodes, Node{Feature: -1, Prob: prob})

	if w0 == 0 || w1 == 0 || samples < g.params.minSamplesSplit ||
		(g.params.maxDepth > 0 && depth >= g.params.maxDepth) {
		return pos
	}
	feature, threshold, ok := g.bestSplit(idx, w0, w1)
	if !ok {
		return pos
	}

	var left, right []int
	for _, i := range idx {
		if g.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.nodes[pos].Feature = feature
	g.nodes[pos].Threshold = threshold
	g.nodes[pos].Left = l
	g.nodes[pos].Right = r
	return pos
}

// bestSplit 最大化 Σ(类别权重²)/子节点权重，等价于最小化子节点加权 Gini
func (g *grower) bestSplit(idx []int, w0, w1 float64) (int, float64, bool) {
	nFeatures := len(g.x[idx[0]])
	order := g.rng.Perm(nFeatures)
	sorted := make([]int, len(idx))

	bestScore := -1.0
	bestFeature, bestThreshold := -1, 0.0
	visited := 0
	for _, f := range order {
		if visited >= g.params.maxFeatures && bestFeature >= 0 {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return g.x[sorted[a]][f] < g.x[sorted[b]][f] })
		if g.x[sorted[0]][f] == g.x[sorted[len(sorted)-1]][f] {
			continue
		}
		visited++

		var l0, l1 float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			if g.y[i] == 1 {
				l1 += g.weight[i]
			} else {
				l0 += g.weight[i]
			}
			cur, next := g.x[i][f], g.x[sorted[k+1]][f]
			if cur == next {
				continue
			}
			r0, r1 := w0-l0, w1-l1
			wl, wr := l0+l1, r0+r1
			if wl <= 0 || wr <= 0 {
				continue
			}
			score := (l0*l0+l1*l1)/wl + (r0*r0+r1*r1)/wr
			if score > bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				if bestThreshold == next {
					bestThreshold = cur
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}
