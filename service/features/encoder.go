/*
 * @module service/features/encoder
 * @description 类别特征整数编码器，拟合状态可导出并在后续评分时复用
 * @architecture 值对象 - 拟合后只读
 * @documentReference DESIGN.md
 * @stateFlow Fit(类别集合) -> 排序去重 -> 类别到整数映射 -> Encode/Decode
 * @rules
 *   - 同一类别在一次运行内总是编码为同一整数
 *   - 未见类别按策略映射为 UnknownCode 或返回 *UnseenCategoryError，绝不静默错编
 * @dependencies sort
 * @refs service/features/builder.go, service/pipeline/scorer.go
 */

package features

import (
	"errors"
	"fmt"
	"sort"
)

// UnknownCode 未见类别的保留编码
const UnknownCode = -1

// ErrUnseenCategory 评分时遇到拟合阶段未出现的类别
var ErrUnseenCategory = errors.New("未见类别")

// UnseenCategoryError 未见类别错误，携带列名与取值
type UnseenCategoryError struct {
	Feature string
	Value   string
}

func (e *UnseenCategoryError) Error() string {
	return fmt.Sprintf("特征 %s 出现未见类别 %q", e.Feature, e.Value)
}

// Is 使 errors.Is(err, ErrUnseenCategory) 成立
func (e *UnseenCategoryError) Is(target error) bool {
	return target == ErrUnseenCategory
}

// UnseenPolicy 未见类别处理策略
type UnseenPolicy int

const (
	// UnseenError 返回 *UnseenCategoryError
	UnseenError UnseenPolicy = iota
	// UnseenAsUnknown 映射为 UnknownCode
	UnseenAsUnknown
)

// ParseUnseenPolicy 解析策略名称: error | unknown
func ParseUnseenPolicy(name string) (UnseenPolicy, error) {
	switch name {
	case "", "error":
		return UnseenError, nil
	case "unknown":
		return UnseenAsUnknown, nil
	default:
		return UnseenError, fmt.Errorf("未知的未见类别策略: %s", name)
	}
}

// EncoderState 编码器可持久化状态
type EncoderState struct {
	Feature string   `json:"feature"`
	Classes []string `json:"classes"`
}

// LabelEncoder 类别编码器，类别按字典序分配编码
type LabelEncoder struct {
	feature string
	classes []string
	index   map[string]int
}

// NewLabelEncoder 创建未拟合的编码器
func NewLabelEncoder(feature string) *LabelEncoder {
	return &LabelEncoder{feature: feature}
}

// NewLabelEncoderFromState 从持久化状态恢复编码器
func NewLabelEncoderFromState(state EncoderState) *LabelEncoder {
	e := &LabelEncoder{feature: state.Feature}
	e.setClasses(append([]string(nil), state.Classes...))
	return e
}

// Fit 拟合类别集合
func (e *LabelEncoder) Fit(values []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	e.setClasses(classes)
	return e
}

func (e *LabelEncoder) setClasses(classes []string) {
	e.classes = classes
	e.index = make(map[string]int, len(classes))
	for i, c := range classes {
		e.index[c] = i
	}
}

// Classes 已拟合类别（按编码顺序）
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// Encode 编码单个类别
func (e *LabelEncoder) Encode(value string, policy UnseenPolicy) (int, error) {
	if code, ok := e.index[value]; ok {
		return code, nil
	}
	if policy == UnseenAsUnknown {
		return UnknownCode, nil
	}
	return UnknownCode, &UnseenCategoryError{Feature: e.feature, Value: value}
}

// Decode 将编码还原为类别
func (e *LabelEncoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.classes) {
		return "", fmt.Errorf("特征 %s 的编码 %d 超出范围", e.feature, code)
	}
	return e.classes[code], nil
}

// State 导出拟合状态
func (e *LabelEncoder) State() EncoderState {
	return EncoderState{Feature: e.feature, Classes: e.Classes()}
}
