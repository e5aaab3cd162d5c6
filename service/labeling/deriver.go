/*
 * @module service/labeling/deriver
 * @description 为每个客户确定二元流失标签：优先使用数据集提供的标签，缺失时按规则推导
 * @architecture 分层架构 - 标签层
 * @documentReference DESIGN.md
 * @stateFlow []Customer -> 提供标签强制二值化 -> 空白标签按规则推导 -> LabelSet
 * @rules
 *   - 提供的标签通过拟合的编码器转换为 0/1，不假设固定约定
 *   - 超过两个取值的标签列视为输入错误
 *   - 最后购买日期缺失的客户，其 inactive_days 以总体中位数填充
 * @dependencies insight-service/service/features, github.com/spf13/cast
 * @refs service/pipeline/pipeline.go
 */

package labeling

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"insight-service/service/config"
	"insight-service/service/dataset"
	"insight-service/service/features"

	"github.com/spf13/cast"
)

// ErrNonBinaryLabels 提供的标签列取值超过两个
var ErrNonBinaryLabels = errors.New("流失标签列不是二值的")

// 标签来源
const (
	SourceSupplied = "supplied"
	SourceDerived  = "derived"
	SourceMixed    = "mixed"
)

var positiveTokens = map[string]struct{}{
	"1": {}, "true": {}, "yes": {}, "y": {}, "churn": {}, "churned": {},
}

var negativeTokens = map[string]struct{}{
	"0": {}, "false": {}, "no": {}, "n": {}, "retained": {}, "active": {},
}

// LabelSet 一次运行的标签结果
type LabelSet struct {
	Labels    []int
	Source    string
	Positives int
	// 提供标签时拟合的编码器状态
	Encoder *features.EncoderState
}

// PositiveRate 正例比例
func (ls LabelSet) PositiveRate() float64 {
	if len(ls.Labels) == 0 {
		return 0
	}
	return float64(ls.Positives) / float64(len(ls.Labels))
}

// Deriver 标签推导器
type Deriver struct {
	rule Rule
}

// NewDeriver 根据配置创建推导器，配置了脚本时使用脚本规则
func NewDeriver(cfg config.LabelingConfig) (*Deriver, error) {
	if cfg.RuleScriptPath != "" {
		rule, err := LoadScriptRule(cfg.RuleScriptPath)
		if err != nil {
			return nil, err
		}
		return &Deriver{rule: rule}, nil
	}
	return &Deriver{rule: NewThresholdRule(cfg.InactiveDaysThreshold, cfg.ChurnStatuses)}, nil
}

// NewDeriverWithRule 使用指定规则创建推导器
func NewDeriverWithRule(rule Rule) *Deriver {
	return &Deriver{rule: rule}
}

// RuleName 当前规则名称
func (d *Deriver) RuleName() string {
	return d.rule.Name()
}

// InactiveDays 各客户相对锚点的不活跃天数，缺失日期以中位数填充
func InactiveDays(customers []dataset.Customer, anchor time.Time) []float64 {
	days := make([]float64, len(customers))
	for i, c := range customers {
		if c.LastPurchaseDate.Valid {
			days[i] = dataset.DaysBetween(c.LastPurchaseDate.Time, anchor)
		} else {
			days[i] = math.NaN()
		}
	}
	features.Impute(days, features.Median(days))
	return days
}

// Derive 计算标签
func (d *Deriver) Derive(customers []dataset.Customer, anchor time.Time, supplied bool) (LabelSet, error) {
	ls := LabelSet{Labels: make([]int, len(customers))}
	pending := make([]bool, len(customers))
	for i := range pending {
		pending[i] = true
	}

	if supplied {
		raw := make([]string, len(customers))
		for i, c := range customers {
			raw[i] = c.ChurnLabel
		}
		labels, present, state, err := CoerceSuppliedLabels(raw)
		if err != nil {
			return LabelSet{}, err
		}
		ls.Encoder = state
		for i := range customers {
			if present[i] {
				ls.Labels[i] = labels[i]
				pending[i] = false
			}
		}
	}

	inactive := InactiveDays(customers, anchor)
	derived := 0
	for i, c := range customers {
		if !pending[i] {
			continue
		}
		label, err := d.rule.Label(Input{InactiveDays: inactive[i], Status: c.SubscriptionStatus})
		if err != nil {
			return LabelSet{}, fmt.Errorf("客户 %s: %w", c.ID, err)
		}
		ls.Labels[i] = label
		derived++
	}

	switch {
	case derived == 0:
		ls.Source = SourceSupplied
	case derived == len(customers):
		ls.Source = SourceDerived
	default:
		ls.Source = SourceMixed
	}
	for _, l := range ls.Labels {
		ls.Positives += l
	}
	return ls, nil
}

// CoerceSuppliedLabels 将提供的标签列转换为 0/1
// 取值全部为常见真假记号时按记号映射；否则拟合编码器，两个类别按字典序取 0/1
// 返回值 present 标记非空单元格
func CoerceSuppliedLabels(raw []string) ([]int, []bool, *features.EncoderState, error) {
	labels := make([]int, len(raw))
	present := make([]bool, len(raw))
	canon := make([]string, len(raw))
	values := make([]string, 0, len(raw))
	for i, v := range raw {
		canon[i] = canonicalLabel(v)
		if canon[i] == "" {
			continue
		}
		present[i] = true
		values = append(values, canon[i])
	}
	if len(values) == 0 {
		return labels, present, nil, nil
	}

	enc := features.NewLabelEncoder("churn_label").Fit(values)
	classes := enc.Classes()
	if len(classes) > 2 {
		return nil, nil, nil, fmt.Errorf("%w: %d 个不同取值 %v", ErrNonBinaryLabels, len(classes), classes)
	}
	state := enc.State()

	tokenized := true
	for _, c := range classes {
		if !isToken(c) {
			tokenized = false
			break
		}
	}

	for i, v := range canon {
		if !present[i] {
			continue
		}
		if tokenized {
			if _, ok := positiveTokens[v]; ok {
				labels[i] = 1
			}
			continue
		}
		code, err := enc.Encode(v, features.UnseenError)
		if err != nil {
			return nil, nil, nil, err
		}
		labels[i] = code
	}
	return labels, present, &state, nil
}

// canonicalLabel 统一记号：小写去空白，数值 1.0 / 0.0 归一为 1 / 0
func canonicalLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" || v == "nan" || v == "null" {
		return ""
	}
	if f, err := cast.ToFloat64E(v); err == nil {
		switch f {
		case 1:
			return "1"
		case 0:
			return "0"
		}
	}
	return v
}

func isToken(v string) bool {
	if _, ok := positiveTokens[v]; ok {
		return true
	}
	_, ok := negativeTokens[v]
	return ok
}
