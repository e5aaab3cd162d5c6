/*
 * @module service/dataset/dataset
 * @description 将原始表格解析为类型化的交易行，并按客户聚合为客户记录
 * @architecture 分层架构 - 数据接入层
 * @documentReference DESIGN.md
 * @stateFlow RawTable -> 列解析 -> 行解析(数值强制转换/日期容错) -> 锚点日期 -> 客户聚合
 * @rules
 *   - 参考日期为数据集中最大的最后购买日期，而非系统时间
 *   - 数值无法解析时记为 NaN，由特征构建阶段以中位数填充
 *   - 空 customer_id 的行被跳过并计数
 * @dependencies insight-service/service/utils, insight-service/service/config
 * @refs service/features/builder.go
 */

package dataset

import (
	"fmt"
	"math"
	"strings"
	"time"

	"insight-service/service/config"
	"insight-service/service/utils"
)

// RawTable 原始表格：表头加字符串行
type RawTable struct {
	Header []string
	Rows   [][]string
}

// Row 单条交易行
type Row struct {
	CustomerID         string
	Age                float64
	Gender             string
	Country            string
	SignupDate         Date
	LastPurchaseDate   Date
	SubscriptionStatus string
	CancellationsCount float64
	UnitPrice          float64
	Quantity           float64
	PurchaseFrequency  float64
	Category           string
	Ratings            float64
	Amount             float64
	ChurnLabel         string
	ProductID          string
	ProductName        string
}

// Revenue 行收入 unit_price * quantity
func (r Row) Revenue() float64 {
	return r.UnitPrice * r.Quantity
}

// Customer 按 customer_id 聚合后的客户记录
type Customer struct {
	ID                 string
	Age                float64
	Gender             string
	Country            string
	Category           string
	SubscriptionStatus string
	SignupDate         Date
	LastPurchaseDate   Date
	CancellationsCount float64
	UnitPrice          float64
	Quantity           float64
	PurchaseFrequency  float64
	Ratings            float64
	Amount             float64
	ChurnLabel         string
	Transactions       int
}

// Dataset 解析后的数据集
type Dataset struct {
	Rows        []Row
	Columns     ColumnIndex
	Anchor      time.Time
	DateStats   []DateParseStats
	SkippedRows int
}

// HasColumn 判断输入中是否存在某列
func (d *Dataset) HasColumn(name string) bool {
	return d.Columns.Has(name)
}

// HasProducts 是否具备 topProducts 所需的产品列
func (d *Dataset) HasProducts() bool {
	return d.HasColumn(ColProductID) && d.HasColumn(ColProductName)
}

// Build 解析原始表格
func Build(table *RawTable, spec ColumnSpec, cfg config.DatasetConfig) (*Dataset, error) {
	if table == nil || len(table.Rows) == 0 {
		return nil, ErrEmptyDataset
	}
	cols, err := spec.Resolve(table.Header)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Columns: cols}
	records := make([][]string, 0, len(table.Rows))
	for _, rec := range table.Rows {
		if cols.Value(rec, ColCustomerID) == "" {
			ds.SkippedRows++
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	signups, signupStats := ParseDates(ColSignupDate, columnValues(records, cols, ColSignupDate), cfg.DateRetryRatio)
	lasts, lastStats := ParseDates(ColLastPurchaseDate, columnValues(records, cols, ColLastPurchaseDate), cfg.DateRetryRatio)
	ds.DateStats = []DateParseStats{signupStats, lastStats}
	for _, st := range ds.DateStats {
		if st.Ratio > cfg.MaxDateFailureRatio {
			return nil, fmt.Errorf("%w: 列 %s 有 %d/%d 个值无法解析", ErrUnparseableDates,
				st.Column, st.Failed, st.Total-st.Blank)
		}
	}

	hasAmount := cols.Has(ColAmount)
	ds.Rows = make([]Row, len(records))
	for i, rec := range records {
		row := Row{
			CustomerID:         cols.Value(rec, ColCustomerID),
			Age:                utils.ToFloatOrNaN(cols.Value(rec, ColAge)),
			Gender:             cols.Value(rec, ColGender),
			Country:            cols.Value(rec, ColCountry),
			SignupDate:         signups[i],
			LastPurchaseDate:   lasts[i],
			SubscriptionStatus: cols.Value(rec, ColSubscriptionStatus),
			CancellationsCount: utils.ToFloatOrNaN(cols.Value(rec, ColCancellations)),
			UnitPrice:          utils.ToFloatOrNaN(cols.Value(rec, ColUnitPrice)),
			Quantity:           utils.ToFloatOrNaN(cols.Value(rec, ColQuantity)),
			PurchaseFrequency:  utils.ToFloatOrNaN(cols.Value(rec, ColPurchaseFrequency)),
			Category:           cols.Value(rec, ColCategory),
			Ratings:            utils.ToFloatOrNaN(cols.Value(rec, ColRatings)),
			ChurnLabel:         cols.Value(rec, ColChurnLabel),
			ProductID:          cols.Value(rec, ColProductID),
			ProductName:        cols.Value(rec, ColProductName),
		}
		if hasAmount {
			row.Amount = utils.ToFloatOrNaN(cols.Value(rec, ColAmount))
		} else {
			row.Amount = row.UnitPrice * row.Quantity * row.PurchaseFrequency
		}
		ds.Rows[i] = row

		if row.LastPurchaseDate.Valid && row.LastPurchaseDate.Time.After(ds.Anchor) {
			ds.Anchor = row.LastPurchaseDate.Time
		}
	}
	if ds.Anchor.IsZero() {
		return nil, fmt.Errorf("%w: 列 %s 没有任何有效日期", ErrUnparseableDates, ColLastPurchaseDate)
	}
	return ds, nil
}

func columnValues(records [][]string, cols ColumnIndex, name string) []string {
	values := make([]string, len(records))
	for i, rec := range records {
		values[i] = cols.Value(rec, name)
	}
	return values
}

// Customers 按 customer_id 聚合，顺序为首次出现顺序
// 人口属性取首个非空值；注册日期取最早、最后购买取最晚；订阅状态取最后购买最晚的行；
// 数量与金额求和，单价与评分取均值，取消次数与购买频率取最大值，品类取众数
func (d *Dataset) Customers() []Customer {
	type acc struct {
		c                   Customer
		priceSum, ratingSum float64
		priceN, ratingN     int
		quantityN, amountN  int
		categoryCount       map[string]int
		categoryOrder       []string
		statusDate          Date
	}

	index := make(map[string]int)
	var accs []*acc
	for _, r := range d.Rows {
		i, ok := index[r.CustomerID]
		if !ok {
			i = len(accs)
			index[r.CustomerID] = i
			accs = append(accs, &acc{
				c: Customer{
					ID: r.CustomerID, Age: math.NaN(), CancellationsCount: math.NaN(),
					PurchaseFrequency: math.NaN(), UnitPrice: math.NaN(), Ratings: math.NaN(),
				},
				categoryCount: make(map[string]int),
			})
		}
		a := accs[i]
		a.c.Transactions++

		if math.IsNaN(a.c.Age) && !math.IsNaN(r.Age) {
			a.c.Age = r.Age
		}
		if a.c.Gender == "" {
			a.c.Gender = r.Gender
		}
		if a.c.Country == "" {
			a.c.Country = r.Country
		}
		if r.SignupDate.Valid && (!a.c.SignupDate.Valid || r.SignupDate.Time.Before(a.c.SignupDate.Time)) {
			a.c.SignupDate = r.SignupDate
		}
		if r.LastPurchaseDate.Valid && (!a.c.LastPurchaseDate.Valid || !r.LastPurchaseDate.Time.Before(a.c.LastPurchaseDate.Time)) {
			a.c.LastPurchaseDate = r.LastPurchaseDate
		}
		if r.SubscriptionStatus != "" {
			switch {
			case a.c.SubscriptionStatus == "":
				a.c.SubscriptionStatus = r.SubscriptionStatus
				a.statusDate = r.LastPurchaseDate
			case r.LastPurchaseDate.Valid && (!a.statusDate.Valid || !r.LastPurchaseDate.Time.Before(a.statusDate.Time)):
				a.c.SubscriptionStatus = r.SubscriptionStatus
				a.statusDate = r.LastPurchaseDate
			}
		}
		a.c.CancellationsCount = nanMax(a.c.CancellationsCount, r.CancellationsCount)
		a.c.PurchaseFrequency = nanMax(a.c.PurchaseFrequency, r.PurchaseFrequency)
		if !math.IsNaN(r.UnitPrice) {
			a.priceSum += r.UnitPrice
			a.priceN++
		}
		if !math.IsNaN(r.Ratings) {
			a.ratingSum += r.Ratings
			a.ratingN++
		}
		if !math.IsNaN(r.Quantity) {
			a.c.Quantity += r.Quantity
			a.quantityN++
		}
		if !math.IsNaN(r.Amount) {
			a.c.Amount += r.Amount
			a.amountN++
		}
		if r.Category != "" {
			if a.categoryCount[r.Category] == 0 {
				a.categoryOrder = append(a.categoryOrder, r.Category)
			}
			a.categoryCount[r.Category]++
		}
		if strings.TrimSpace(r.ChurnLabel) != "" {
			a.c.ChurnLabel = r.ChurnLabel
		}
	}

	out := make([]Customer, len(accs))
	for i, a := range accs {
		if a.priceN > 0 {
			a.c.UnitPrice = a.priceSum / float64(a.priceN)
		}
		if a.ratingN > 0 {
			a.c.Ratings = a.ratingSum / float64(a.ratingN)
		}
		if a.quantityN == 0 {
			a.c.Quantity = math.NaN()
		}
		if a.amountN == 0 {
			a.c.Amount = math.NaN()
		}
		best := 0
		for _, cat := range a.categoryOrder {
			if a.categoryCount[cat] > best {
				best = a.categoryCount[cat]
				a.c.Category = cat
			}
		}
		out[i] = a.c
	}
	return out
}

func nanMax(current, v float64) float64 {
	if math.IsNaN(v) {
		return current
	}
	if math.IsNaN(current) || v > current {
		return v
	}
	return current
}
