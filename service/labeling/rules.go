/*
 * @module service/labeling/rules
 * @description 流失标签规则：阈值规则与可选的 yaegi 脚本规则
 * @architecture 策略模式 - Rule 接口
 * @documentReference DESIGN.md
 * @stateFlow (inactive_days, subscription_status) -> Rule.Label -> 0/1
 * @rules 规则为纯函数：相同输入总是得到相同标签；阈值与状态集合来自配置
 * @dependencies github.com/traefik/yaegi
 * @refs service/labeling/deriver.go
 */

package labeling

import (
	"fmt"
	"os"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Input 规则输入
type Input struct {
	InactiveDays float64
	Status       string
}

// Rule 流失标签规则
type Rule interface {
	Label(in Input) (int, error)
	Name() string
}

// ThresholdRule inactive_days > Threshold 或状态属于 Statuses 时为流失
type ThresholdRule struct {
	Threshold float64
	statuses  map[string]struct{}
}

// NewThresholdRule 创建阈值规则，状态比较忽略大小写与首尾空白
func NewThresholdRule(threshold float64, statuses []string) *ThresholdRule {
	r := &ThresholdRule{Threshold: threshold, statuses: make(map[string]struct{}, len(statuses))}
	for _, s := range statuses {
		r.statuses[normalizeStatus(s)] = struct{}{}
	}
	return r
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name 规则名称
func (r *ThresholdRule) Name() string {
	return fmt.Sprintf("threshold(%g)", r.Threshold)
}

// Label 计算标签
func (r *ThresholdRule) Label(in Input) (int, error) {
	if in.InactiveDays > r.Threshold {
		return 1, nil
	}
	if _, ok := r.statuses[normalizeStatus(in.Status)]; ok {
		return 1, nil
	}
	return 0, nil
}

// ScriptRule 运维提供的规则脚本，脚本体为函数
// func Churned(inactiveDays float64, status string) bool 的函数体
type ScriptRule struct {
	source string
	fn     func(float64, string) bool
}

// LoadScriptRule 从文件加载并编译规则脚本
func LoadScriptRule(path string) (*ScriptRule, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取规则脚本失败: %w", err)
	}
	return CompileScriptRule(string(body))
}

// CompileScriptRule 编译规则脚本
func CompileScriptRule(body string) (*ScriptRule, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	wrapped := fmt.Sprintf(`
package main

import (
	"math"
	"strings"
)

var _ = math.Abs
var _ = strings.ToLower

func Churned(inactiveDays float64, status string) bool {
%s
}
`, body)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("规则脚本编译失败: %w", err)
	}
	v, err := i.Eval("Churned")
	if err != nil {
		return nil, fmt.Errorf("规则脚本缺少 Churned 函数: %w", err)
	}
	fn, ok := v.Interface().(func(float64, string) bool)
	if !ok {
		return nil, fmt.Errorf("Churned 函数签名必须是 func(float64, string) bool")
	}
	return &ScriptRule{source: body, fn: fn}, nil
}

// Name 规则名称
func (r *ScriptRule) Name() string {
	return "script"
}

// Label 计算标签，脚本 panic 转换为错误
func (r *ScriptRule) Label(in Input) (label int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("规则脚本执行失败: %v", p)
		}
	}()
	if r.fn(in.InactiveDays, in.Status) {
		return 1, nil
	}
	return 0, nil
}
