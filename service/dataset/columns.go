/*
 * @module service/dataset/columns
 * @description 输入数据集的列定义：必需列、可选列及每个可选列缺失时的回退行为
 * @architecture 配置驱动 - 显式列清单替代运行时存在性探测
 * @documentReference DESIGN.md
 * @stateFlow 表头 -> 标准化匹配 -> 列索引
 * @rules 缺少任一必需列立即失败，错误信息附带相近列名提示
 * @dependencies github.com/sahilm/fuzzy
 * @refs service/dataset/parse.go
 */

package dataset

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"insight-service/service/utils"

	"github.com/sahilm/fuzzy"
)

// 输入列名
const (
	ColCustomerID         = "customer_id"
	ColAge                = "age"
	ColGender             = "gender"
	ColCountry            = "country"
	ColSignupDate         = "signup_date"
	ColLastPurchaseDate   = "last_purchase_date"
	ColSubscriptionStatus = "subscription_status"
	ColCancellations      = "cancellations_count"
	ColUnitPrice          = "unit_price"
	ColQuantity           = "quantity"
	ColPurchaseFrequency  = "purchase_frequency"
	ColCategory           = "category"
	ColRatings            = "Ratings"
	ColChurnLabel         = "churn_label"
	ColProductID          = "product_id"
	ColProductName        = "product_name"
	ColAmount             = "amount"
)

var (
	// ErrMissingColumn 缺少必需列
	ErrMissingColumn = errors.New("缺少必需列")
	// ErrEmptyDataset 数据集为空
	ErrEmptyDataset = errors.New("数据集为空")
	// ErrUnparseableDates 日期无法解析的比例超过容忍度
	ErrUnparseableDates = errors.New("日期无法解析的比例超过容忍度")
)

// OptionalColumn 可选列及其缺失时的回退行为
type OptionalColumn struct {
	Name     string
	Fallback string
}

// ColumnSpec 列清单
type ColumnSpec struct {
	Required []string
	Optional []OptionalColumn
}

// DefaultColumnSpec 默认列清单
func DefaultColumnSpec() ColumnSpec {
	return ColumnSpec{
		Required: []string{
			ColCustomerID, ColAge, ColGender, ColCountry, ColSignupDate, ColLastPurchaseDate,
			ColSubscriptionStatus, ColCancellations, ColUnitPrice, ColQuantity,
			ColPurchaseFrequency, ColCategory, ColRatings,
		},
		Optional: []OptionalColumn{
			{Name: ColChurnLabel, Fallback: "按规则推导流失标签"},
			{Name: ColProductID, Fallback: "topProducts 为空"},
			{Name: ColProductName, Fallback: "topProducts 为空"},
			{Name: ColAmount, Fallback: "unit_price * quantity * purchase_frequency"},
		},
	}
}

// ColumnIndex 列名到表头位置的映射
type ColumnIndex map[string]int

// Has 判断列是否存在
func (ci ColumnIndex) Has(name string) bool {
	_, ok := ci[name]
	return ok
}

// Value 读取某行中指定列的值，列不存在或越界时返回空串
func (ci ColumnIndex) Value(row []string, name string) string {
	idx, ok := ci[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// Resolve 将表头解析为列索引
// 匹配忽略大小写、空白和下划线；缺少必需列时返回 ErrMissingColumn
func (s ColumnSpec) Resolve(header []string) (ColumnIndex, error) {
	byKey := make(map[string]int, len(header))
	keys := make([]string, 0, len(header))
	for i, h := range header {
		key := utils.NormalizeKey(h)
		if _, dup := byKey[key]; dup {
			continue
		}
		byKey[key] = i
		keys = append(keys, key)
	}

	index := make(ColumnIndex)
	var missing []string
	for _, name := range s.Required {
		if i, ok := byKey[utils.NormalizeKey(name)]; ok {
			index[name] = i
		} else {
			missing = append(missing, name)
		}
	}
	for _, opt := range s.Optional {
		if i, ok := byKey[utils.NormalizeKey(opt.Name)]; ok {
			index[opt.Name] = i
		}
	}

	if len(missing) > 0 {
		parts := make([]string, 0, len(missing))
		for _, name := range missing {
			if hint := closestHeader(name, keys, header, byKey); hint != "" {
				parts = append(parts, fmt.Sprintf("%s（是否为 %q？）", name, hint))
			} else {
				parts = append(parts, name)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(parts, ", "))
	}
	return index, nil
}

func closestHeader(name string, keys, header []string, byKey map[string]int) string {
	matches := fuzzy.Find(utils.NormalizeKey(name), keys)
	if len(matches) == 0 {
		return ""
	}
	sort.Stable(matches)
	return header[byKey[matches[0].Str]]
}
