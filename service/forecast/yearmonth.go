package forecast

import (
	"fmt"
	"time"
)

// YearMonth 日历月份，内部始终携带年份，只在展示时去掉
type YearMonth struct {
	Year  int
	Month time.Month
}

// FromTime 取时间所在月份
func FromTime(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseYearMonth 解析 2006-01 格式
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("无效的年月 %q: %w", s, err)
	}
	return FromTime(t), nil
}

// Index 自公元 0 年 1 月起的月序号
func (ym YearMonth) Index() int {
	return ym.Year*12 + int(ym.Month) - 1
}

// fromIndex Index 的逆运算
func fromIndex(i int) YearMonth {
	return YearMonth{Year: i / 12, Month: time.Month(i%12 + 1)}
}

// Add 向后偏移 n 个月
func (ym YearMonth) Add(n int) YearMonth {
	return fromIndex(ym.Index() + n)
}

// Before 是否早于 other
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.Index() < other.Index()
}

// String 2006-01
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Short 月份缩写 Jan
func (ym YearMonth) Short() string {
	return ym.Month.String()[:3]
}

// Long 带年份的展示标签 Jan 2025
func (ym YearMonth) Long() string {
	return fmt.Sprintf("%s %d", ym.Short(), ym.Year)
}

// MarshalText 以 2006-01 序列化
func (ym YearMonth) MarshalText() ([]byte, error) {
	return []byte(ym.String()), nil
}

// UnmarshalText 解析 2006-01
func (ym *YearMonth) UnmarshalText(b []byte) error {
	parsed, err := ParseYearMonth(string(b))
	if err != nil {
		return err
	}
	*ym = parsed
	return nil
}
