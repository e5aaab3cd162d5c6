/*
 * @module service/utils/data_converter
 * @description 数据转换工具，负责输入编码转换、数值强制转换、字符串标准化和数值舍入
 * @architecture 工具函数模式，无状态
 * @documentReference DESIGN.md
 * @stateFlow 无状态转换：输入 -> 转换逻辑 -> 输出
 * @rules
 *   - 无法转换的数值返回 NaN，由下游中位数填充处理
 *   - 编码转换支持 utf-8 / gbk / latin1
 * @dependencies golang.org/x/text, github.com/spf13/cast
 * @refs service/dataset/*
 */

package utils

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LookupEncoding 根据名称查找字符编码
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	case "gbk", "gb2312":
		return simplifiedchinese.GBK, nil
	case "gb18030":
		return simplifiedchinese.GB18030, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("不支持的编码: %s", name)
	}
}

// DecodeReader 将指定编码的输入流转换为 UTF-8
func DecodeReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// ToFloatOrNaN 强制转换为浮点数，空值或无法解析时返回 NaN
func ToFloatOrNaN(value interface{}) float64 {
	if value == nil {
		return math.NaN()
	}
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
			return math.NaN()
		}
		value = s
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return math.NaN()
	}
	return f
}

// NormalizeString 标准化字符串：去除首尾空格并合并连续空白
func NormalizeString(str string) string {
	return strings.Join(strings.Fields(str), " ")
}

// NormalizeKey 生成用于匹配的键：小写、去除空白和下划线
func NormalizeKey(str string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(str) {
		if r == '_' || r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Round 按指定小数位四舍五入（远离零）
func Round(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
