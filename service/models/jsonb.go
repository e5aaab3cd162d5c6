package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONB 运行诊断等半结构化字段
type JSONB map[string]interface{}

// Scan 实现 Scanner 接口
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, j)
}

// Value 实现 Valuer 接口
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// columnBytes 数据库驱动返回 []byte 或 string
func columnBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("类型断言失败: 不是 []byte 或 string")
	}
}

// JSONRaw 原样存储的 JSON 文档
type JSONRaw []byte

// Scan 实现 Scanner 接口
func (j *JSONRaw) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	*j = append((*j)[:0], raw...)
	return nil
}

// Value 实现 Valuer 接口
func (j JSONRaw) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// MarshalJSON 原样输出
func (j JSONRaw) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON 原样保存
func (j *JSONRaw) UnmarshalJSON(b []byte) error {
	*j = append((*j)[:0], b...)
	return nil
}
