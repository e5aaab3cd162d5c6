/*
 * @module service/pipeline/scorer
 * @description 在线评分：加载某次成功运行的编码器、标准化器与森林，对新客户计算流失概率
 * @architecture 缓存 + 只读模型 - 产物按运行ID缓存于 LRU，加载后不再修改
 * @documentReference DESIGN.md
 * @stateFlow 请求 -> 选择运行 -> 缓存命中/加载产物 -> 特征应用 -> 预测
 * @rules
 *   - 未见类别按请求策略处理：error 返回可识别的错误，unknown 映射为保留编码
 *   - 缺失数值以训练时的中位数填充
 * @dependencies github.com/hashicorp/golang-lru
 * @refs api/controllers/pipeline_controller.go
 */

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"insight-service/service/classifier"
	"insight-service/service/dataset"
	"insight-service/service/features"
	"insight-service/service/models"
	"insight-service/service/store"

	lru "github.com/hashicorp/golang-lru"
)

// ErrNoModel 没有可用于评分的模型
var ErrNoModel = errors.New("no trained model available")

// ErrInvalidScoreRequest 评分请求不合法
var ErrInvalidScoreRequest = errors.New("invalid score request")

// ArtifactLoader 产物读取
type ArtifactLoader interface {
	LatestSucceededRun(ctx context.Context) (*models.PipelineRun, error)
	LoadArtifacts(ctx context.Context, runID string) (map[string][]byte, error)
}

// CustomerInput 待评分客户
type CustomerInput struct {
	CustomerID         string   `json:"customer_id"`
	Age                *float64 `json:"age"`
	Gender             string   `json:"gender"`
	Country            string   `json:"country"`
	Category           string   `json:"category"`
	SubscriptionStatus string   `json:"subscription_status"`
	SignupDate         string   `json:"signup_date"`
	LastPurchaseDate   string   `json:"last_purchase_date"`
	CancellationsCount *float64 `json:"cancellations_count"`
	UnitPrice          *float64 `json:"unit_price"`
	Quantity           *float64 `json:"quantity"`
	PurchaseFrequency  *float64 `json:"purchase_frequency"`
	Ratings            *float64 `json:"Ratings"`
	Amount             *float64 `json:"amount"`
}

// ScoreRequest 评分请求
type ScoreRequest struct {
	RunID        string          `json:"run_id,omitempty"`
	AsOf         string          `json:"as_of,omitempty"`
	UnseenPolicy string          `json:"unseen_policy,omitempty"`
	Customers    []CustomerInput `json:"customers"`
}

// CustomerScore 单个客户的评分
type CustomerScore struct {
	CustomerID       string  `json:"customer_id"`
	ChurnProbability float64 `json:"churn_probability"`
}

// ScoreResponse 评分结果
type ScoreResponse struct {
	RunID  string          `json:"run_id"`
	AsOf   string          `json:"as_of"`
	Scores []CustomerScore `json:"scores"`
}

// scoringModel 加载后只读
type scoringModel struct {
	runID    string
	features features.State
	anchor   time.Time
	model    *classifier.Model
}

// Scorer 在线评分器
type Scorer struct {
	loader ArtifactLoader
	cache  *lru.Cache
}

// NewScorer 创建评分器，cacheSize 为缓存的运行数
func NewScorer(loader ArtifactLoader, cacheSize int) (*Scorer, error) {
	if cacheSize <= 0 {
		cacheSize = 4
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("创建模型缓存失败: %w", err)
	}
	return &Scorer{loader: loader, cache: cache}, nil
}

// Score 对请求中的客户评分
func (s *Scorer) Score(ctx context.Context, req ScoreRequest) (*ScoreResponse, error) {
	if len(req.Customers) == 0 {
		return nil, fmt.Errorf("%w: 没有待评分的客户", ErrInvalidScoreRequest)
	}
	policy, err := features.ParseUnseenPolicy(req.UnseenPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScoreRequest, err)
	}

	runID := req.RunID
	if runID == "" {
		run, err := s.loader.LatestSucceededRun(ctx)
		if errors.Is(err, store.ErrRunNotFound) {
			return nil, ErrNoModel
		}
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}
	m, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}

	anchor := m.anchor
	if req.AsOf != "" {
		dates, stats := dataset.ParseDates("as_of", []string{req.AsOf}, 0)
		if stats.Failed > 0 || !dates[0].Valid {
			return nil, fmt.Errorf("%w: 无法解析评分日期 %s", ErrInvalidScoreRequest, req.AsOf)
		}
		anchor = dates[0].Time
	}

	customers := make([]dataset.Customer, len(req.Customers))
	for i, in := range req.Customers {
		customers[i] = in.toCustomer()
	}
	fs, err := features.Apply(m.features, customers, anchor, policy)
	if err != nil {
		return nil, err
	}
	probs, err := m.model.PredictAll(fs.Values)
	if err != nil {
		return nil, err
	}

	resp := &ScoreResponse{RunID: m.runID, AsOf: anchor.Format("2006-01-02"), Scores: make([]CustomerScore, len(probs))}
	for i, p := range probs {
		resp.Scores[i] = CustomerScore{CustomerID: customers[i].ID, ChurnProbability: p}
	}
	return resp, nil
}

func (s *Scorer) load(ctx context.Context, runID string) (*scoringModel, error) {
	if cached, ok := s.cache.Get(runID); ok {
		return cached.(*scoringModel), nil
	}

	raw, err := s.loader.LoadArtifacts(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil, fmt.Errorf("%w: 运行 %s 没有产物", ErrNoModel, runID)
	}
	if err != nil {
		return nil, err
	}
	artifacts, err := DecodeArtifacts(raw)
	if err != nil {
		return nil, err
	}
	model, err := classifier.NewModelFromState(artifacts.Model)
	if err != nil {
		return nil, err
	}

	m := &scoringModel{
		runID:    runID,
		features: artifacts.Features.State,
		anchor:   artifacts.Features.Anchor,
		model:    model,
	}
	s.cache.Add(runID, m)
	return m, nil
}

func (in CustomerInput) toCustomer() dataset.Customer {
	num := func(v *float64) float64 {
		if v == nil {
			return math.NaN()
		}
		return *v
	}

	c := dataset.Customer{
		ID:                 in.CustomerID,
		Age:                num(in.Age),
		Gender:             in.Gender,
		Country:            in.Country,
		Category:           in.Category,
		SubscriptionStatus: in.SubscriptionStatus,
		SignupDate:         parseInputDate(dataset.ColSignupDate, in.SignupDate),
		LastPurchaseDate:   parseInputDate(dataset.ColLastPurchaseDate, in.LastPurchaseDate),
		CancellationsCount: num(in.CancellationsCount),
		UnitPrice:          num(in.UnitPrice),
		Quantity:           num(in.Quantity),
		PurchaseFrequency:  num(in.PurchaseFrequency),
		Ratings:            num(in.Ratings),
		Amount:             num(in.Amount),
		Transactions:       1,
	}
	if in.Amount == nil {
		c.Amount = c.UnitPrice * c.Quantity * c.PurchaseFrequency
	}
	return c
}

// parseInputDate 每个日期字段独立解析，日在前重试只影响该字段
func parseInputDate(column, value string) dataset.Date {
	dates, _ := dataset.ParseDates(column, []string{value}, 0)
	return dates[0]
}
