/*
 * @module service/report/sales_report
 * @description 组装销售报表：品类收入占比、月度收入及预测、年龄分布、价值分群、热销产品
 * @architecture 纯函数
 * @documentReference DESIGN.md
 * @stateFlow Dataset 交易行 + 收入序列(含预测) -> SalesReport
 * @rules
 *   - revenue = unit_price * quantity，无法计算的行不计入
 *   - 年龄段固定 5 个，计数为 0 的段也输出，百分比以总行数为分母
 *   - 价值分群的 recency 相对数据集锚点日期
 *   - forecasts 保留字段，始终为 []
 * @dependencies insight-service/service/dataset, insight-service/service/forecast
 * @refs service/pipeline/pipeline.go
 */

package report

import (
	"math"
	"sort"
	"time"

	"insight-service/service/dataset"
	"insight-service/service/features"
	"insight-service/service/forecast"
	"insight-service/service/utils"
)

// 价值分群名称
const (
	SegmentHighValue   = "High Value"
	SegmentMediumValue = "Medium Value"
	SegmentLowValue    = "Low Value"
)

type ageBin struct {
	label  string
	lo, hi float64
}

// 区间左开右闭
var ageBins = []ageBin{
	{"18-25", 0, 25},
	{"26-35", 25, 35},
	{"36-45", 35, 45},
	{"46-60", 45, 60},
	{"60+", 60, 100},
}

// SalesOptions 销售报表参数
type SalesOptions struct {
	TopCategories int
	TopProducts   int
}

// RevenueObservations 以最后购买日期为时间点的行收入
func RevenueObservations(ds *dataset.Dataset) []forecast.Observation {
	obs := make([]forecast.Observation, 0, len(ds.Rows))
	for _, r := range ds.Rows {
		if !r.LastPurchaseDate.Valid {
			continue
		}
		obs = append(obs, forecast.Observation{Date: r.LastPurchaseDate.Time, Value: r.Revenue()})
	}
	return obs
}

// AssembleSalesReport 组装销售报表，revenue 为历史加预测的月度收入序列
func AssembleSalesReport(ds *dataset.Dataset, revenue []forecast.Point, opts SalesOptions) *SalesReport {
	return &SalesReport{
		SalesByCategory:  salesByCategory(ds.Rows, opts.TopCategories),
		RevenueTrends:    revenueTrends(revenue),
		AgeDistribution:  ageDistribution(ds.Rows),
		CustomerSegments: valueSegments(ds.Rows, ds.Anchor),
		TopProducts:      topProducts(ds, opts.TopProducts),
		Forecasts:        []interface{}{},
	}
}

func validRevenue(r dataset.Row) (float64, bool) {
	v := r.Revenue()
	return v, !math.IsNaN(v) && !math.IsInf(v, 0)
}

func salesByCategory(rows []dataset.Row, top int) []CategorySales {
	totals := make(map[string]float64)
	grand := 0.0
	for _, r := range rows {
		v, ok := validRevenue(r)
		if !ok || r.Category == "" {
			continue
		}
		totals[r.Category] += v
		grand += v
	}
	out := make([]CategorySales, 0, len(totals))
	for cat, v := range totals {
		pct := 0.0
		if grand != 0 {
			pct = utils.Round(v/grand*100, 2)
		}
		out = append(out, CategorySales{Category: cat, Revenue: utils.Round(v, 2), Percentage: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Category < out[j].Category
	})
	if top >= 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func revenueTrends(points []forecast.Point) []RevenueTrend {
	out := make([]RevenueTrend, len(points))
	for i, p := range points {
		out[i] = RevenueTrend{Month: p.Period.String(), Revenue: utils.Round(p.Value, 2), IsPredicted: p.IsForecast}
	}
	return out
}

func ageDistribution(rows []dataset.Row) []AgeBucket {
	counts := make([]int, len(ageBins))
	for _, r := range rows {
		for b, bin := range ageBins {
			if r.Age > bin.lo && r.Age <= bin.hi {
				counts[b]++
				break
			}
		}
	}
	out := make([]AgeBucket, len(ageBins))
	for b, bin := range ageBins {
		pct := 0.0
		if len(rows) > 0 {
			pct = utils.Round(float64(counts[b])/float64(len(rows))*100, 2)
		}
		out[b] = AgeBucket{AgeGroup: bin.label, Count: counts[b], Percentage: pct}
	}
	return out
}

type customerValue struct {
	frequency float64
	revenue   float64
	last      time.Time
	recency   float64
}

// valueSegments 频次高于交易行中位数、收入高于客户中位数且 recency 低于客户中位数为高价值；
// 仅收入高于中位数为中价值；其余为低价值
func valueSegments(rows []dataset.Row, anchor time.Time) []ValueSegment {
	index := make(map[string]int)
	var customers []*customerValue
	rowFrequency := make([]float64, 0, len(rows))
	for _, r := range rows {
		rowFrequency = append(rowFrequency, r.PurchaseFrequency)
		i, ok := index[r.CustomerID]
		if !ok {
			i = len(customers)
			index[r.CustomerID] = i
			customers = append(customers, &customerValue{frequency: math.NaN()})
		}
		c := customers[i]
		if !math.IsNaN(r.PurchaseFrequency) && (math.IsNaN(c.frequency) || r.PurchaseFrequency > c.frequency) {
			c.frequency = r.PurchaseFrequency
		}
		if v, ok := validRevenue(r); ok {
			c.revenue += v
		}
		if r.LastPurchaseDate.Valid && r.LastPurchaseDate.Time.After(c.last) {
			c.last = r.LastPurchaseDate.Time
		}
	}
	if len(customers) == 0 {
		return []ValueSegment{}
	}

	revenues := make([]float64, len(customers))
	recencies := make([]float64, len(customers))
	for i, c := range customers {
		c.recency = math.NaN()
		if !c.last.IsZero() {
			c.recency = dataset.DaysBetween(c.last, anchor)
		}
		revenues[i] = c.revenue
		recencies[i] = c.recency
	}
	freqMedian := features.Median(rowFrequency)
	revMedian := features.Median(revenues)
	recMedian := features.Median(recencies)

	counts := make(map[string]int)
	for _, c := range customers {
		switch {
		case c.frequency > freqMedian && c.revenue > revMedian && c.recency < recMedian:
			counts[SegmentHighValue]++
		case c.revenue > revMedian:
			counts[SegmentMediumValue]++
		default:
			counts[SegmentLowValue]++
		}
	}
	out := make([]ValueSegment, 0, len(counts))
	for name, n := range counts {
		out = append(out, ValueSegment{
			Segment:    name,
			Count:      n,
			Percentage: utils.Round(float64(n)/float64(len(customers))*100, 2),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Segment < out[j].Segment
	})
	return out
}

type productKey struct {
	id, name, country string
}

func topProducts(ds *dataset.Dataset, top int) []ProductRevenue {
	if !ds.HasProducts() {
		return []ProductRevenue{}
	}
	totals := make(map[productKey]float64)
	for _, r := range ds.Rows {
		v, ok := validRevenue(r)
		if !ok || r.ProductID == "" || r.ProductName == "" || r.Country == "" {
			continue
		}
		totals[productKey{r.ProductID, r.ProductName, r.Country}] += v
	}
	out := make([]ProductRevenue, 0, len(totals))
	for k, v := range totals {
		out = append(out, ProductRevenue{ProductID: Identifier(k.id), ProductName: k.name, Country: k.country, Revenue: utils.Round(v, 2)})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Revenue != b.Revenue:
			return a.Revenue > b.Revenue
		case a.ProductID != b.ProductID:
			return lessID(string(a.ProductID), string(b.ProductID))
		case a.ProductName != b.ProductName:
			return a.ProductName < b.ProductName
		default:
			return a.Country < b.Country
		}
	})
	if top >= 0 && len(out) > top {
		out = out[:top]
	}
	return out
}
