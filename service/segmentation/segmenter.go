/*
 * @module service/segmentation/segmenter
 * @description 客户分群：标准化行为特征、自动选择簇数、按簇均值与总体均值比较命名
 * @architecture 分层架构 - 模型层
 * @documentReference DESIGN.md
 * @stateFlow 行为特征矩阵 -> StandardScaler -> SelectClusterCount -> 簇画像 -> 分群名称
 * @rules
 *   - 每个客户恰好属于一个分群名称，名称来自固定集合
 *   - 多个簇可以得到同一名称，报表按名称汇总
 * @dependencies insight-service/service/features, insight-service/service/config
 * @refs service/report/churn_report.go
 */

package segmentation

import (
	"fmt"

	"insight-service/service/config"
	"insight-service/service/features"
)

// 分群名称
const (
	HighValueFrequent   = "High-Value Frequent Buyers"
	HighValueOccasional = "High-Value Occasional Buyers"
	FrequentLowValue    = "Frequent Low-Value Buyers"
	AtRisk              = "At-Risk Customers"
	Regular             = "Regular Customers"
)

// SegmentNames 全部分群名称
var SegmentNames = []string{HighValueFrequent, HighValueOccasional, FrequentLowValue, AtRisk, Regular}

// ClusterProfile 簇画像
type ClusterProfile struct {
	Index int                `json:"index"`
	Size  int                `json:"size"`
	Means map[string]float64 `json:"means"`
	Name  string             `json:"name"`
}

// Result 分群结果
type Result struct {
	Assignments []string           `json:"-"`
	Clusters    []int              `json:"-"`
	Profiles    []ClusterProfile   `json:"profiles"`
	Population  map[string]float64 `json:"population_means"`
	Selection   *Selection         `json:"selection"`
}

// Counts 各分群名称的客户数
func (r *Result) Counts() map[string]int {
	counts := make(map[string]int)
	for _, name := range r.Assignments {
		counts[name]++
	}
	return counts
}

// NameCluster 按优先级比较簇均值与总体均值
func NameCluster(cluster, population map[string]float64) string {
	above := func(name string) bool {
		c, ok := cluster[name]
		if !ok {
			return false
		}
		return c > population[name]
	}
	amount := above(features.FeatureAmount)
	frequency := above(features.FeaturePurchaseFrequency)
	switch {
	case amount && frequency:
		return HighValueFrequent
	case amount:
		return HighValueOccasional
	case frequency:
		return FrequentLowValue
	case above(features.FeatureRecencyDays):
		return AtRisk
	default:
		return Regular
	}
}

// Segmenter 客户分群器
type Segmenter struct {
	cfg config.SegmentationConfig
}

// NewSegmenter 创建分群器
func NewSegmenter(cfg config.SegmentationConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Features 参与分群的特征名
func (s *Segmenter) Features() []string {
	return s.cfg.Features
}

// Segment 对特征矩阵（列顺序与 names 一致，未标准化）分群
func (s *Segmenter) Segment(x [][]float64, names []string) (*Result, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("没有可分群的客户")
	}
	if len(x[0]) != len(names) {
		return nil, fmt.Errorf("特征矩阵有 %d 列，特征名 %d 个", len(x[0]), len(names))
	}
	scaler := &features.StandardScaler{}
	scaled, err := scaler.FitTransform(x)
	if err != nil {
		return nil, err
	}

	base := KMeans{
		Inits:         s.cfg.Inits,
		MaxIterations: s.cfg.MaxIterations,
		Tolerance:     s.cfg.Tolerance,
		Seed:          s.cfg.Seed,
	}
	sel := SelectClusterCount(scaled, s.cfg.Candidates, base, s.cfg.SilhouetteSampleSize)
	clustering := sel.Clustering()

	canonical := make([]string, len(names))
	for j, name := range names {
		canonical[j] = features.CanonicalFeature(name)
	}
	population := columnMeans(x, nil, canonical)
	profiles := make([]ClusterProfile, sel.K)
	for c := range profiles {
		members := make([]int, 0)
		for i, l := range clustering.Labels {
			if l == c {
				members = append(members, i)
			}
		}
		means := columnMeans(x, members, canonical)
		profiles[c] = ClusterProfile{Index: c, Size: len(members), Means: means, Name: NameCluster(means, population)}
	}

	res := &Result{
		Assignments: make([]string, len(x)),
		Clusters:    clustering.Labels,
		Profiles:    profiles,
		Population:  population,
		Selection:   sel,
	}
	for i, l := range clustering.Labels {
		res.Assignments[i] = profiles[l].Name
	}
	return res, nil
}

// columnMeans members 为 nil 时对全部行求均值
func columnMeans(x [][]float64, members []int, names []string) map[string]float64 {
	means := make(map[string]float64, len(names))
	rows := members
	if rows == nil {
		rows = make([]int, len(x))
		for i := range rows {
			rows[i] = i
		}
	}
	if len(rows) == 0 {
		return means
	}
	for j, name := range names {
		sum := 0.0
		for _, i := range rows {
			sum += x[i][j]
		}
		means[name] = sum / float64(len(rows))
	}
	return means
}
