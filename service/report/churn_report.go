/*
 * @module service/report/churn_report
 * @description 组装流失报表：高风险客户、流失趋势、分群人数、国家与品类×国家流失率
 * @architecture 纯函数 - 相同输入得到相同输出
 * @documentReference DESIGN.md
 * @stateFlow 评分后的客户 + 分群名称 + 趋势序列 -> ChurnReport
 * @rules
 *   - topCustomers 按概率降序，平分时按客户标识升序，最多 N 条
 *   - 分群颜色只由名称决定，未映射的名称使用默认颜色
 *   - 趋势月份标签在序列内唯一时只显示月份缩写，否则附带年份
 * @dependencies insight-service/service/forecast, insight-service/service/segmentation
 * @refs service/pipeline/pipeline.go
 */

package report

import (
	"sort"

	"insight-service/service/forecast"
	"insight-service/service/segmentation"
)

// DefaultSegmentColor 未映射分群的颜色
const DefaultSegmentColor = "#8884D8"

var segmentColors = map[string]string{
	segmentation.HighValueFrequent:   "#FF6B6B",
	segmentation.HighValueOccasional: "#FFD93D",
	segmentation.FrequentLowValue:    "#6BCF7F",
	segmentation.AtRisk:              "#FFA500",
	segmentation.Regular:             "#6BCF7F",
}

// SegmentColor 分群名称对应的展示颜色
func SegmentColor(name string) string {
	if c, ok := segmentColors[name]; ok {
		return c
	}
	return DefaultSegmentColor
}

// ScoredCustomer 参与报表的客户
type ScoredCustomer struct {
	ID          string
	Country     string
	Category    string
	Segment     string
	Probability float64
}

// ChurnInput 流失报表输入
type ChurnInput struct {
	Customers []ScoredCustomer
	// 流失率序列，取值为 0-1 的比例
	Trend []forecast.Point
	TopN  int
}

// AssembleChurnReport 组装流失报表
func AssembleChurnReport(in ChurnInput) *ChurnReport {
	return &ChurnReport{
		TopCustomers: topCustomers(in.Customers, in.TopN),
		ChurnTrends:  churnTrends(in.Trend),
		Segmentation: segmentCounts(in.Customers),
		Countries:    countryRates(in.Customers),
		Categories:   categoryRates(in.Customers),
	}
}

func topCustomers(customers []ScoredCustomer, n int) []TopCustomer {
	ranked := append([]ScoredCustomer(nil), customers...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Probability != ranked[j].Probability {
			return ranked[i].Probability > ranked[j].Probability
		}
		return lessID(ranked[i].ID, ranked[j].ID)
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]TopCustomer, len(ranked))
	for i, c := range ranked {
		out[i] = TopCustomer{ID: Identifier(c.ID), Name: c.ID, ChurnProbability: roundInt(c.Probability)}
	}
	return out
}

// TrendLabels 月份展示标签：序列内缩写唯一时用 Jan，否则用 Jan 2025
func TrendLabels(points []forecast.Point) []string {
	seen := make(map[string]bool, len(points))
	unique := true
	for _, p := range points {
		if seen[p.Period.Short()] {
			unique = false
			break
		}
		seen[p.Period.Short()] = true
	}
	labels := make([]string, len(points))
	for i, p := range points {
		if unique {
			labels[i] = p.Period.Short()
		} else {
			labels[i] = p.Period.Long()
		}
	}
	return labels
}

func churnTrends(points []forecast.Point) []ChurnTrend {
	labels := TrendLabels(points)
	out := make([]ChurnTrend, len(points))
	for i, p := range points {
		rate := roundInt(p.Value * 100)
		if rate < 0 {
			rate = 0
		}
		if rate > 100 {
			rate = 100
		}
		out[i] = ChurnTrend{Month: labels[i], ChurnRate: rate}
	}
	return out
}

func segmentCounts(customers []ScoredCustomer) []SegmentCount {
	counts := make(map[string]int)
	for _, c := range customers {
		counts[c.Segment]++
	}
	out := make([]SegmentCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, SegmentCount{Name: name, Value: n, Color: SegmentColor(name)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

type meanAcc struct {
	sum float64
	n   int
}

func meanRates(groups map[string]*meanAcc) []CountryRate {
	out := make([]CountryRate, 0, len(groups))
	for country, acc := range groups {
		out = append(out, CountryRate{Country: country, ChurnRate: roundInt(acc.sum / float64(acc.n))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out
}

func countryRates(customers []ScoredCustomer) []CountryRate {
	groups := make(map[string]*meanAcc)
	for _, c := range customers {
		if c.Country == "" {
			continue
		}
		acc, ok := groups[c.Country]
		if !ok {
			acc = &meanAcc{}
			groups[c.Country] = acc
		}
		acc.sum += c.Probability
		acc.n++
	}
	return meanRates(groups)
}

func categoryRates(customers []ScoredCustomer) []CategoryRates {
	byCategory := make(map[string]map[string]*meanAcc)
	for _, c := range customers {
		if c.Category == "" || c.Country == "" {
			continue
		}
		groups, ok := byCategory[c.Category]
		if !ok {
			groups = make(map[string]*meanAcc)
			byCategory[c.Category] = groups
		}
		acc, ok := groups[c.Country]
		if !ok {
			acc = &meanAcc{}
			groups[c.Country] = acc
		}
		acc.sum += c.Probability
		acc.n++
	}
	out := make([]CategoryRates, 0, len(byCategory))
	for name, groups := range byCategory {
		out = append(out, CategoryRates{Name: name, CountryData: meanRates(groups)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
