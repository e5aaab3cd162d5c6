/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference DESIGN.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性；生成的数据集完全由种子决定
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models, service/store, service/pipeline
 */

package testutil

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"insight-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 内存库每个连接独立，限制为单连接
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	// 自动迁移所有模型
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"pipeline_runs",
		"report_snapshots",
		"fitted_artifacts",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// CustomerDatasetFactory 合成客户数据集工厂
type CustomerDatasetFactory struct {
	Customers     int       // 客户数
	InactiveShare float64   // 最近一次购买早于 InactiveDays 的客户比例
	InactiveDays  int       // 不活跃阈值（天）
	Anchor        time.Time // 数据集中最晚的购买日期
	Seed          int64
	WithProducts  bool // 是否输出 product_id / product_name
	WithLabels    bool // 是否输出 churn_label 列
}

// CustomerDatasetOption 数据集工厂选项函数类型
type CustomerDatasetOption func(*CustomerDatasetFactory)

// NewCustomerDatasetFactory 创建数据集工厂，默认 100 个客户、30% 超过 180 天未购买
func NewCustomerDatasetFactory(opts ...CustomerDatasetOption) *CustomerDatasetFactory {
	f := &CustomerDatasetFactory{
		Customers:     100,
		InactiveShare: 0.3,
		InactiveDays:  180,
		Anchor:        time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC),
		Seed:          7,
		WithProducts:  true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithCustomers 设置客户数
func WithCustomers(n int) CustomerDatasetOption {
	return func(f *CustomerDatasetFactory) { f.Customers = n }
}

// WithInactiveShare 设置不活跃客户比例
func WithInactiveShare(share float64) CustomerDatasetOption {
	return func(f *CustomerDatasetFactory) { f.InactiveShare = share }
}

// WithChurnLabels 输出 churn_label 列
func WithChurnLabels() CustomerDatasetOption {
	return func(f *CustomerDatasetFactory) { f.WithLabels = true }
}

// WithoutProducts 不输出商品列
func WithoutProducts() CustomerDatasetOption {
	return func(f *CustomerDatasetFactory) { f.WithProducts = false }
}

// InactiveCount 不活跃客户数
func (f *CustomerDatasetFactory) InactiveCount() int {
	return int(float64(f.Customers)*f.InactiveShare + 0.5)
}

// Header 表头
func (f *CustomerDatasetFactory) Header() []string {
	header := []string{
		"customer_id", "age", "gender", "country", "category", "subscription_status",
		"signup_date", "last_purchase_date", "cancellations_count", "unit_price",
		"quantity", "purchase_frequency", "Ratings",
	}
	if f.WithProducts {
		header = append(header, "product_id", "product_name")
	}
	if f.WithLabels {
		header = append(header, "churn_label")
	}
	return header
}

// Records 生成数据行，每个客户一行
// 前 InactiveCount 个客户的最近购买早于阈值，其余客户在阈值内购买且订阅状态为 active
func (f *CustomerDatasetFactory) Records() [][]string {
	rng := rand.New(rand.NewSource(f.Seed))
	countries := []string{"USA", "Germany", "India", "Brazil"}
	categories := []string{"Electronics", "Books", "Toys", "Fashion"}
	products := []string{"Laptop", "Novel", "Puzzle", "Jacket"}
	inactive := f.InactiveCount()

	records := make([][]string, 0, f.Customers)
	for i := 0; i < f.Customers; i++ {
		var lastPurchase time.Time
		status := "active"
		cancellations := rng.Intn(2)
		frequency := 5 + rng.Intn(20)
		if i < inactive {
			lastPurchase = f.Anchor.AddDate(0, 0, -(f.InactiveDays + 20 + rng.Intn(300)))
			cancellations = 2 + rng.Intn(3)
			frequency = 1 + rng.Intn(3)
		} else {
			lastPurchase = f.Anchor.AddDate(0, 0, -rng.Intn(f.InactiveDays-30))
		}
		if i == inactive {
			// 保证锚定日期出现在数据中
			lastPurchase = f.Anchor
		}
		signup := lastPurchase.AddDate(0, 0, -(60 + rng.Intn(900)))

		c := i % len(categories)
		record := []string{
			strconv.Itoa(1000 + i),
			strconv.Itoa(18 + rng.Intn(55)),
			[]string{"Male", "Female"}[rng.Intn(2)],
			countries[rng.Intn(len(countries))],
			categories[c],
			status,
			signup.Format("2006-01-02"),
			lastPurchase.Format("2006-01-02"),
			strconv.Itoa(cancellations),
			strconv.FormatFloat(float64(10+rng.Intn(190))+0.99, 'f', 2, 64),
			strconv.Itoa(1 + rng.Intn(5)),
			strconv.Itoa(frequency),
			strconv.FormatFloat(1+float64(rng.Intn(40))/10, 'f', 1, 64),
		}
		if f.WithProducts {
			record = append(record, "P"+strconv.Itoa(c+1), products[c])
		}
		if f.WithLabels {
			label := "0"
			if i < inactive {
				label = "1"
			}
			record = append(record, label)
		}
		records = append(records, record)
	}
	return records
}

// CSV 以 CSV 文本输出数据集
func (f *CustomerDatasetFactory) CSV() string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(f.Header())
	_ = w.WriteAll(f.Records())
	return buf.String()
}

// MockNotifier 报表更新通知 Mock
type MockNotifier struct {
	mock.Mock
}

// NotifyReportUpdated 记录调用
func (m *MockNotifier) NotifyReportUpdated(ctx context.Context, kind, runID string) error {
	args := m.Called(ctx, kind, runID)
	return args.Error(0)
}

// HTTPTestHelper HTTP测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 创建JSON请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// AssertJSONResponse 断言JSON响应
func (h *HTTPTestHelper) AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedBody interface{}) {
	assert.Equal(t, expectedStatus, w.Code)

	if expectedBody != nil {
		var actualBody interface{}
		err := json.Unmarshal(w.Body.Bytes(), &actualBody)
		assert.NoError(t, err)

		expectedJSON, _ := json.Marshal(expectedBody)
		actualJSON, _ := json.Marshal(actualBody)

		assert.JSONEq(t, string(expectedJSON), string(actualJSON))
	}
}
