/*
 * @module service/dataset/source
 * @description 数据源：CSV 文件（支持多种编码）与 SQL 查询（Postgres / MariaDB）
 * @architecture 接口抽象 - 流水线只依赖 Source 接口
 * @documentReference DESIGN.md
 * @stateFlow Source.Load -> RawTable -> Build
 * @rules SQL 结果中的时间列统一格式化为 2006-01-02
 * @dependencies encoding/csv, database/sql, github.com/lib/pq, github.com/go-sql-driver/mysql, github.com/spf13/cast
 * @refs service/pipeline/pipeline.go
 */

package dataset

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"insight-service/service/utils"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/spf13/cast"
)

// Source 原始数据来源
type Source interface {
	Load(ctx context.Context) (*RawTable, error)
	Describe() string
}

// CSVSource 从 CSV 文件读取
type CSVSource struct {
	Path     string
	Encoding string
}

// NewCSVSource 创建 CSV 数据源
func NewCSVSource(path, encoding string) *CSVSource {
	return &CSVSource{Path: path, Encoding: encoding}
}

// Describe 数据源描述
func (s *CSVSource) Describe() string {
	return "csv:" + s.Path
}

// Load 读取整个文件
func (s *CSVSource) Load(ctx context.Context) (*RawTable, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("打开数据文件失败: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f, s.Encoding)
}

// ReadCSV 从 reader 解析 CSV，首行为表头
func ReadCSV(ctx context.Context, r io.Reader, encoding string) (*RawTable, error) {
	decoded, err := utils.DecodeReader(r, encoding)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}

	table := &RawTable{Header: header}
	for line := 2; ; line++ {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取第 %d 行失败: %w", line, err)
		}
		if isBlankRecord(rec) {
			continue
		}
		table.Rows = append(table.Rows, rec)
	}
	return table, nil
}

func isBlankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// SQLSource 通过 SQL 查询读取，结果列名即输入列名
type SQLSource struct {
	DSN   string
	Query string
}

// NewSQLSource 创建 SQL 数据源
func NewSQLSource(dsn, query string) *SQLSource {
	return &SQLSource{DSN: dsn, Query: query}
}

// Describe 数据源描述，不包含凭据
func (s *SQLSource) Describe() string {
	driver, _, err := resolveDriver(s.DSN)
	if err != nil {
		return "sql"
	}
	return "sql:" + driver
}

// Load 执行查询并读取全部结果
func (s *SQLSource) Load(ctx context.Context) (*RawTable, error) {
	driver, dsn, err := resolveDriver(s.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	rows, err := db.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, fmt.Errorf("执行查询失败: %w", err)
	}
	defer rows.Close()
	return ScanRows(rows)
}

// ScanRows 将任意结果集转换为 RawTable
func ScanRows(rows *sql.Rows) (*RawTable, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	table := &RawTable{Header: columns}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("扫描结果行失败: %w", err)
		}
		rec := make([]string, len(columns))
		for i, v := range values {
			rec[i] = cellString(v)
		}
		table.Rows = append(table.Rows, rec)
	}
	return table, rows.Err()
}

func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format("2006-01-02")
	case []byte:
		return string(val)
	default:
		return cast.ToString(val)
	}
}

// resolveDriver 根据 DSN 选择驱动，mysql:// 与 mariadb:// 转换为 go-sql-driver 格式
func resolveDriver(dsn string) (string, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return "postgres", dsn, nil
	case strings.HasPrefix(dsn, "mysql://"), strings.HasPrefix(dsn, "mariadb://"):
		converted, err := toMySQLDSN(dsn)
		return "mysql", converted, err
	case strings.Contains(dsn, "@tcp("):
		return "mysql", dsn, nil
	default:
		return "", "", fmt.Errorf("无法识别的数据库连接串")
	}
}

func toMySQLDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("解析连接串失败: %w", err)
	}
	user, pass := "", ""
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	db := strings.TrimPrefix(u.Path, "/")
	if user == "" || u.Host == "" || db == "" {
		return "", fmt.Errorf("连接串不完整 (user/host/db)")
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&interpolateParams=true", user, pass, u.Host, db), nil
}
