/*
 * @module service/report/types
 * @description 看板消费的两类聚合报表的固定结构
 * @architecture 值对象 - 组装后不可变
 * @documentReference DESIGN.md
 * @rules 下游按键名而非位置索引；数组字段在无数据时序列化为 []
 * @dependencies encoding/json, regexp
 * @refs service/report/churn_report.go, service/report/sales_report.go
 */

package report

import (
	"regexp"
)

// 报表类型
const (
	KindChurn = "churn"
	KindSales = "sales"
)

var integerPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]{0,14})$`)

// Identifier 标识符；整数字面量序列化为 JSON 数字，其余为字符串
type Identifier string

// MarshalJSON 实现 json.Marshaler
func (id Identifier) MarshalJSON() ([]byte, error) {
	if integerPattern.MatchString(string(id)) {
		return []byte(string(id)), nil
	}
	return []byte(quote(string(id))), nil
}

// UnmarshalJSON 接受数字或字符串
func (id *Identifier) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		unquoted, err := unquote(b)
		if err != nil {
			return err
		}
		*id = Identifier(unquoted)
		return nil
	}
	*id = Identifier(s)
	return nil
}

// TopCustomer 流失风险最高的客户
type TopCustomer struct {
	ID               Identifier `json:"id"`
	Name             string     `json:"name"`
	ChurnProbability int        `json:"churn_probability"`
}

// ChurnTrend 月度流失率（含预测）
type ChurnTrend struct {
	Month     string `json:"month"`
	ChurnRate int    `json:"churnRate"`
}

// SegmentCount 分群人数
type SegmentCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Color string `json:"color"`
}

// CountryRate 国家平均流失概率
type CountryRate struct {
	Country   string `json:"country"`
	ChurnRate int    `json:"churnRate"`
}

// CategoryRates 品类下各国家的平均流失概率
type CategoryRates struct {
	Name        string        `json:"name"`
	CountryData []CountryRate `json:"countryData"`
}

// ChurnReport 流失报表
type ChurnReport struct {
	TopCustomers []TopCustomer   `json:"topCustomers"`
	ChurnTrends  []ChurnTrend    `json:"churnTrends"`
	Segmentation []SegmentCount  `json:"segmentation"`
	Countries    []CountryRate   `json:"countries"`
	Categories   []CategoryRates `json:"categories"`
}

// CategorySales 品类收入
type CategorySales struct {
	Category   string  `json:"category"`
	Revenue    float64 `json:"revenue"`
	Percentage float64 `json:"percentage"`
}

// RevenueTrend 月度收入（含预测）
type RevenueTrend struct {
	Month       string  `json:"month"`
	Revenue     float64 `json:"revenue"`
	IsPredicted bool    `json:"isPredicted"`
}

// AgeBucket 年龄段分布
type AgeBucket struct {
	AgeGroup   string  `json:"age_group"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ValueSegment 价值分群
type ValueSegment struct {
	Segment    string  `json:"segment"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ProductRevenue 产品收入
type ProductRevenue struct {
	ProductID   Identifier `json:"product_id"`
	ProductName string     `json:"product_name"`
	Country     string     `json:"country"`
	Revenue     float64    `json:"revenue"`
}

// SalesReport 销售报表
type SalesReport struct {
	SalesByCategory  []CategorySales  `json:"salesByCategory"`
	RevenueTrends    []RevenueTrend   `json:"revenueTrends"`
	AgeDistribution  []AgeBucket      `json:"ageDistribution"`
	CustomerSegments []ValueSegment   `json:"customerSegments"`
	TopProducts      []ProductRevenue `json:"topProducts"`
	Forecasts        []interface{}    `json:"forecasts"`
}
