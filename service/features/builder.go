/*
 * @module service/features/builder
 * @description 从客户记录派生特征：日期转为天数、缺失数值以中位数填充、类别特征整数编码
 * @architecture 分层架构 - 特征层
 * @documentReference DESIGN.md
 * @stateFlow []Customer + 锚点日期 -> 原始数值列 -> 中位数填充 -> 类别编码 -> FeatureSet(含可持久化 State)
 * @rules
 *   - tenure_days = 锚点 - 注册日期，recency_days = 锚点 - 最后购买日期，均不小于 0
 *   - 中位数在本次运行的数据上计算；评分时复用持久化的中位数
 *   - 输出矩阵中不含 NaN
 * @dependencies insight-service/service/dataset
 * @refs service/labeling, service/classifier, service/segmentation
 */

package features

import (
	"fmt"
	"math"
	"strings"
	"time"

	"insight-service/service/dataset"
)

// 派生特征名
const (
	FeatureAge                = "age"
	FeatureTenureDays         = "tenure_days"
	FeatureRecencyDays        = "recency_days"
	FeaturePurchaseFrequency  = "purchase_frequency"
	FeatureAmount             = "amount"
	FeatureCancellationsCount = "cancellations_count"
	FeatureRatings            = "ratings"
	FeatureUnitPrice          = "unit_price"
	FeatureQuantity           = "quantity"
	FeatureTransactions       = "transactions"
)

// 特征别名
var featureAliases = map[string]string{
	"days_since_signup":        FeatureTenureDays,
	"days_since_last_purchase": FeatureRecencyDays,
	"inactive_days":            FeatureRecencyDays,
	"Ratings":                  FeatureRatings,
}

// CanonicalFeature 特征名规范化，解析别名
func CanonicalFeature(name string) string {
	if alias, ok := featureAliases[name]; ok {
		return alias
	}
	return strings.ToLower(name)
}

func numericValue(c dataset.Customer, name string, anchor time.Time) (float64, bool) {
	switch name {
	case FeatureAge:
		return c.Age, true
	case FeatureTenureDays:
		if !c.SignupDate.Valid {
			return math.NaN(), true
		}
		return dataset.DaysBetween(c.SignupDate.Time, anchor), true
	case FeatureRecencyDays:
		if !c.LastPurchaseDate.Valid {
			return math.NaN(), true
		}
		return dataset.DaysBetween(c.LastPurchaseDate.Time, anchor), true
	case FeaturePurchaseFrequency:
		return c.PurchaseFrequency, true
	case FeatureAmount:
		return c.Amount, true
	case FeatureCancellationsCount:
		return c.CancellationsCount, true
	case FeatureRatings:
		return c.Ratings, true
	case FeatureUnitPrice:
		return c.UnitPrice, true
	case FeatureQuantity:
		return c.Quantity, true
	case FeatureTransactions:
		return float64(c.Transactions), true
	}
	return 0, false
}

func categoricalValue(c dataset.Customer, name string) (string, bool) {
	switch name {
	case "gender":
		return c.Gender, true
	case "country":
		return c.Country, true
	case "category":
		return c.Category, true
	case "subscription_status":
		return c.SubscriptionStatus, true
	}
	return "", false
}

// State 特征构建的可持久化状态
type State struct {
	Numeric     []string                `json:"numeric"`
	Categorical []string                `json:"categorical"`
	Medians     map[string]float64      `json:"medians"`
	Encoders    map[string]EncoderState `json:"encoders"`
}

// FeatureSet 每客户一行的特征矩阵
type FeatureSet struct {
	IDs     []string
	Columns []string
	Values  [][]float64
	Imputed map[string]int
	State   State
}

// Column 按列名取出一列（副本）
func (fs *FeatureSet) Column(name string) ([]float64, bool) {
	name = CanonicalFeature(name)
	for j, col := range fs.Columns {
		if col == name {
			out := make([]float64, len(fs.Values))
			for i, row := range fs.Values {
				out[i] = row[j]
			}
			return out, true
		}
	}
	return nil, false
}

// Select 按列名顺序取出子矩阵
func (fs *FeatureSet) Select(names []string) ([][]float64, error) {
	idx := make([]int, len(names))
	for k, name := range names {
		canon := CanonicalFeature(name)
		idx[k] = -1
		for j, col := range fs.Columns {
			if col == canon {
				idx[k] = j
				break
			}
		}
		if idx[k] < 0 {
			return nil, fmt.Errorf("特征 %s 不在特征集中", name)
		}
	}
	out := make([][]float64, len(fs.Values))
	for i, row := range fs.Values {
		sel := make([]float64, len(idx))
		for k, j := range idx {
			sel[k] = row[j]
		}
		out[i] = sel
	}
	return out, nil
}

// Builder 特征构建器
type Builder struct {
	numeric     []string
	categorical []string
}

// NewBuilder 创建特征构建器，未知特征名立即报错
func NewBuilder(numeric, categorical []string) (*Builder, error) {
	b := &Builder{}
	for _, name := range numeric {
		canon := CanonicalFeature(name)
		if _, ok := numericValue(dataset.Customer{}, canon, time.Time{}); !ok {
			return nil, fmt.Errorf("未知数值特征: %s", name)
		}
		b.numeric = append(b.numeric, canon)
	}
	for _, name := range categorical {
		canon := strings.ToLower(name)
		if _, ok := categoricalValue(dataset.Customer{}, canon); !ok {
			return nil, fmt.Errorf("未知类别特征: %s", name)
		}
		b.categorical = append(b.categorical, canon)
	}
	return b, nil
}

// Build 拟合中位数与编码器并构建特征集
func (b *Builder) Build(customers []dataset.Customer, anchor time.Time) (*FeatureSet, error) {
	if len(customers) == 0 {
		return nil, dataset.ErrEmptyDataset
	}
	state := State{
		Numeric:     b.numeric,
		Categorical: b.categorical,
		Medians:     make(map[string]float64, len(b.numeric)),
		Encoders:    make(map[string]EncoderState, len(b.categorical)),
	}
	for _, name := range b.numeric {
		raw := make([]float64, len(customers))
		for i, c := range customers {
			raw[i], _ = numericValue(c, name, anchor)
		}
		state.Medians[name] = Median(raw)
	}
	for _, name := range b.categorical {
		raw := make([]string, len(customers))
		for i, c := range customers {
			raw[i], _ = categoricalValue(c, name)
		}
		state.Encoders[name] = NewLabelEncoder(name).Fit(raw).State()
	}
	return Apply(state, customers, anchor, UnseenError)
}

// Apply 使用已拟合状态构建特征集，评分路径复用训练时的中位数与编码器
func Apply(state State, customers []dataset.Customer, anchor time.Time, policy UnseenPolicy) (*FeatureSet, error) {
	fs := &FeatureSet{
		IDs:     make([]string, len(customers)),
		Columns: append(append([]string{}, state.Numeric...), state.Categorical...),
		Values:  make([][]float64, len(customers)),
		Imputed: make(map[string]int),
		State:   state,
	}
	encoders := make([]*LabelEncoder, len(state.Categorical))
	for k, name := range state.Categorical {
		es, ok := state.Encoders[name]
		if !ok {
			return nil, fmt.Errorf("缺少特征 %s 的编码器状态", name)
		}
		encoders[k] = NewLabelEncoderFromState(es)
	}

	for i, c := range customers {
		fs.IDs[i] = c.ID
		row := make([]float64, 0, len(fs.Columns))
		for _, name := range state.Numeric {
			v, ok := numericValue(c, name, anchor)
			if !ok {
				return nil, fmt.Errorf("未知数值特征: %s", name)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = state.Medians[name]
				fs.Imputed[name]++
			}
			row = append(row, v)
		}
		for k, name := range state.Categorical {
			raw, _ := categoricalValue(c, name)
			code, err := encoders[k].Encode(raw, policy)
			if err != nil {
				return nil, fmt.Errorf("客户 %s: %w", c.ID, err)
			}
			row = append(row, float64(code))
		}
		fs.Values[i] = row
	}
	return fs, nil
}
