package report

import (
	"encoding/json"
	"math"
	"strconv"
)

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func unquote(b []byte) (string, error) {
	var s string
	err := json.Unmarshal(b, &s)
	return s, err
}

// roundInt 四舍五入为整数（远离零）
func roundInt(x float64) int {
	return int(math.Round(x))
}

// lessID 标识符升序；两者均为整数字面量时按数值比较，与 Identifier 的序列化规则一致
func lessID(a, b string) bool {
	if integerPattern.MatchString(a) && integerPattern.MatchString(b) {
		ia, _ := strconv.ParseInt(a, 10, 64)
		ib, _ := strconv.ParseInt(b, 10, 64)
		if ia != ib {
			return ia < ib
		}
	}
	return a < b
}
