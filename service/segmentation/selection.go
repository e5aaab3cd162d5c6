/*
 * @module service/segmentation/selection
 * @description 簇数选择：对候选簇数分别聚类并以轮廓系数评分，取最高分，平分时取较小簇数
 * @architecture 纯计算
 * @documentReference DESIGN.md
 * @stateFlow 候选簇数(升序) -> 跳过 k >= n -> KMeans.Fit -> Silhouette -> 最优 k
 * @rules
 *   - 评分失败的候选记为最差分数 -1，不中断搜索
 *   - 没有任何有效候选时退化为单簇
 * @dependencies log/slog
 * @refs service/segmentation/segmenter.go
 */

package segmentation

import (
	"log/slog"
	"sort"
)

// WorstScore 评分失败时的分数
const WorstScore = -1.0

// CandidateScore 单个候选簇数的评分
type CandidateScore struct {
	K       int     `json:"k"`
	Score   float64 `json:"score"`
	Skipped bool    `json:"skipped,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Selection 簇数选择结果
type Selection struct {
	K          int              `json:"k"`
	Candidates []CandidateScore `json:"candidates"`
	Fallback   bool             `json:"fallback,omitempty"`
	clustering *Clustering
}

// Clustering 选中簇数对应的聚类结果
func (s *Selection) Clustering() *Clustering {
	return s.clustering
}

// SelectClusterCount 选择簇数
func SelectClusterCount(x [][]float64, candidates []int, base KMeans, sampleSize int) *Selection {
	ks := append([]int(nil), candidates...)
	sort.Ints(ks)

	sel := &Selection{}
	bestScore := 0.0
	for _, k := range ks {
		if k < 2 || k >= len(x) {
			sel.Candidates = append(sel.Candidates, CandidateScore{K: k, Score: WorstScore, Skipped: true, Reason: "簇数不小于样本数"})
			continue
		}
		km := base
		km.K = k
		clustering, err := km.Fit(x)
		if err != nil {
			sel.Candidates = append(sel.Candidates, CandidateScore{K: k, Score: WorstScore, Reason: err.Error()})
			continue
		}
		score, err := Silhouette(x, clustering.Labels, sampleSize, base.Seed)
		reason := ""
		if err != nil {
			slog.Debug("轮廓系数计算失败", "k", k, "error", err)
			score, reason = WorstScore, err.Error()
		}
		sel.Candidates = append(sel.Candidates, CandidateScore{K: k, Score: score, Reason: reason})
		if sel.clustering == nil || score > bestScore {
			bestScore = score
			sel.K = k
			sel.clustering = clustering
		}
	}

	if sel.clustering == nil {
		sel.Fallback = true
		sel.K = 1
		labels := make([]int, len(x))
		km := base
		km.K = 1
		if c, err := km.Fit(x); err == nil {
			sel.clustering = c
		} else {
			sel.clustering = &Clustering{K: 1, Labels: labels}
		}
	}
	return sel
}
