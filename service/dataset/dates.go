/*
 * @module service/dataset/dates
 * @description 容错日期解析：先按月在前的格式解析，失败比例超过阈值时按日在前重试，取失败更少的一次
 * @architecture 纯函数 - 不依赖外部状态
 * @documentReference DESIGN.md
 * @stateFlow 原始字符串列 -> 主格式解析 -> (可选) 日在前重试 -> Date 列 + 解析统计
 * @rules 空值与无法解析的值都得到 Valid=false 的 Date，不会被丢弃
 * @dependencies time
 * @refs service/dataset/parse.go
 */

package dataset

import (
	"strings"
	"time"
)

// Date 可能无效的日期；Valid=false 即解析失败的哨兵值
type Date struct {
	Time  time.Time
	Valid bool
}

// DateParseStats 单列日期解析统计
type DateParseStats struct {
	Column   string  `json:"column"`
	Total    int     `json:"total"`
	Blank    int     `json:"blank"`
	Failed   int     `json:"failed"`
	DayFirst bool    `json:"day_first"`
	Ratio    float64 `json:"failure_ratio"`
}

// 两种约定共用的无歧义格式
var isoLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"2006/1/2",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
}

var monthFirstLayouts = append(append([]string{}, isoLayouts...),
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/2006 15:04:05",
	"01-02-2006",
	"1-2-2006",
	"01/02/06",
	"1/2/06",
)

var dayFirstLayouts = append(append([]string{}, isoLayouts...),
	"02/01/2006",
	"2/1/2006",
	"02/01/2006 15:04",
	"2/1/2006 15:04",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"02/01/06",
	"2/1/06",
)

// parseWith 用给定格式列表解析单个值，结果截断到 UTC 日期
func parseWith(value string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func parseColumn(values []string, layouts []string) ([]Date, int, int) {
	out := make([]Date, len(values))
	failed, blank := 0, 0
	for i, raw := range values {
		v := strings.TrimSpace(raw)
		if v == "" || strings.EqualFold(v, "nan") || strings.EqualFold(v, "nat") {
			blank++
			continue
		}
		if t, ok := parseWith(v, layouts); ok {
			out[i] = Date{Time: t, Valid: true}
		} else {
			failed++
		}
	}
	return out, failed, blank
}

// ParseDates 容错解析一列日期
// 主格式失败比例超过 retryRatio 时按日在前重试，保留失败更少的结果（相同时保留主格式）
// 空值计为缺失而非失败，失败比例以非空值为分母
func ParseDates(column string, values []string, retryRatio float64) ([]Date, DateParseStats) {
	dates, failed, blank := parseColumn(values, monthFirstLayouts)
	stats := DateParseStats{Column: column, Total: len(values), Blank: blank, Failed: failed}

	nonBlank := len(values) - blank
	if nonBlank > 0 && float64(failed)/float64(nonBlank) > retryRatio {
		retried, retryFailed, _ := parseColumn(values, dayFirstLayouts)
		if retryFailed < failed {
			dates = retried
			stats.Failed = retryFailed
			stats.DayFirst = true
		}
	}
	if nonBlank > 0 {
		stats.Ratio = float64(stats.Failed) / float64(nonBlank)
	}
	return dates, stats
}

// DaysBetween 返回 from 到 to 的整天数，负值截断为 0
func DaysBetween(from, to time.Time) float64 {
	days := int(to.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return float64(days)
}
