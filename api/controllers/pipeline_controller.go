/*
 * @module api/controllers/pipeline_controller
 * @description 流水线控制器：手动触发运行、查询运行记录、用已发布的模型为新客户评分
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow 触发 -> 获取锁 -> 同步运行 -> 返回运行摘要
 * @rules
 *   - 已有运行时返回409
 *   - 阶段失败返回422并带上失败阶段
 *   - 评分遇到未见类别返回400并指明字段
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render, github.com/spf13/cast
 * @refs service/scheduler/pipeline_scheduler.go, service/pipeline/scorer.go
 */

package controllers

import (
	"context"
	"errors"
	"net/http"

	"insight-service/service/classifier"
	"insight-service/service/features"
	"insight-service/service/models"
	"insight-service/service/pipeline"
	"insight-service/service/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/spf13/cast"
)

// PipelineTrigger 流水线触发
type PipelineTrigger interface {
	Trigger(ctx context.Context, trigger string) (*pipeline.Result, error)
}

// RunReader 运行记录查询
type RunReader interface {
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, status string, limit int) ([]models.PipelineRun, error)
}

// ChurnScorer 在线评分
type ChurnScorer interface {
	Score(ctx context.Context, req pipeline.ScoreRequest) (*pipeline.ScoreResponse, error)
}

// PipelineController 流水线控制器
type PipelineController struct {
	trigger PipelineTrigger
	runs    RunReader
	scorer  ChurnScorer
}

// NewPipelineController 创建流水线控制器实例
func NewPipelineController(trigger PipelineTrigger, runs RunReader, scorer ChurnScorer) *PipelineController {
	return &PipelineController{trigger: trigger, runs: runs, scorer: scorer}
}

// RunSummary 运行摘要
type RunSummary struct {
	Run     *models.PipelineRun `json:"run"`
	Metrics classifier.Metrics  `json:"metrics"`
}

// RunFailure 运行失败信息
type RunFailure struct {
	FailedStage string `json:"failed_stage" example:"classification"`
}

// UnseenCategoryFailure 未见类别信息
type UnseenCategoryFailure struct {
	Feature string `json:"feature" example:"country"`
	Value   string `json:"value" example:"Mars"`
}

// RunPipeline 手动触发流水线运行
// @Summary 触发流水线运行
// @Description 同步执行一次完整的分析流水线并发布报表
// @Tags 流水线
// @Produce json
// @Success 200 {object} APIResponse{data=RunSummary}
// @Failure 409 {object} APIResponse
// @Failure 422 {object} APIResponse{data=RunFailure}
// @Security ApiKeyAuth
// @Router /api/pipeline/run [post]
func (c *PipelineController) RunPipeline(w http.ResponseWriter, r *http.Request) {
	// 客户端断开不应中断已开始的运行
	ctx := context.WithoutCancel(r.Context())

	result, err := c.trigger.Trigger(ctx, models.TriggerAPI)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		writeAPIResponse(w, r, ErrorResponse(http.StatusConflict, "已有流水线在运行", nil))
		return
	}
	if err != nil {
		if stage := pipeline.FailedStage(err); stage != "" {
			resp := ErrorResponse(http.StatusUnprocessableEntity, "流水线运行失败", err)
			resp.Data = RunFailure{FailedStage: stage}
			writeAPIResponse(w, r, resp)
			return
		}
		writeAPIResponse(w, r, InternalErrorResponse("流水线运行失败", err))
		return
	}

	render.JSON(w, r, SuccessResponse("流水线运行成功", RunSummary{Run: result.Run, Metrics: result.Metrics}))
}

// ListRuns 获取运行记录列表
// @Summary 获取运行记录列表
// @Description 按开始时间倒序返回运行记录
// @Tags 流水线
// @Produce json
// @Param status query string false "运行状态 running/succeeded/failed"
// @Param limit query int false "返回条数，默认20，最大100"
// @Success 200 {object} PaginatedResponse{data=[]models.PipelineRun}
// @Router /api/pipeline/runs [get]
func (c *PipelineController) ListRuns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.RunStatusRunning, models.RunStatusSucceeded, models.RunStatusFailed:
	default:
		writeAPIResponse(w, r, BadRequestResponse("无效的运行状态", nil))
		return
	}
	limit := cast.ToInt(r.URL.Query().Get("limit"))

	runs, err := c.runs.ListRuns(r.Context(), status, limit)
	if err != nil {
		writeAPIResponse(w, r, InternalErrorResponse("获取运行记录失败", err))
		return
	}

	render.JSON(w, r, &PaginatedResponse{
		Status: 0,
		Msg:    "获取运行记录成功",
		Data:   runs,
		Total:  int64(len(runs)),
		Limit:  limit,
	})
}

// GetRun 获取运行记录详情
// @Summary 获取运行记录详情
// @Tags 流水线
// @Produce json
// @Param id path string true "运行ID"
// @Success 200 {object} APIResponse{data=models.PipelineRun}
// @Failure 404 {object} APIResponse
// @Router /api/pipeline/runs/{id} [get]
func (c *PipelineController) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeAPIResponse(w, r, BadRequestResponse("运行ID不能为空", nil))
		return
	}

	run, err := c.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeAPIResponse(w, r, NotFoundResponse("运行记录不存在", nil))
		return
	}
	if err != nil {
		writeAPIResponse(w, r, InternalErrorResponse("获取运行记录失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("获取运行记录成功", run))
}

// ScoreCustomers 为新客户计算流失概率
// @Summary 客户流失评分
// @Description 使用最近一次（或指定）成功运行的模型为请求中的客户评分
// @Tags 流水线
// @Accept json
// @Produce json
// @Param request body pipeline.ScoreRequest true "评分请求"
// @Success 200 {object} APIResponse{data=pipeline.ScoreResponse}
// @Failure 400 {object} APIResponse{data=UnseenCategoryFailure}
// @Failure 404 {object} APIResponse
// @Failure 429 {object} APIResponse
// @Router /api/churn/score [post]
func (c *PipelineController) ScoreCustomers(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ScoreRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeAPIResponse(w, r, BadRequestResponse("请求参数解析失败", err))
		return
	}

	resp, err := c.scorer.Score(r.Context(), req)
	var unseen *features.UnseenCategoryError
	switch {
	case err == nil:
		render.JSON(w, r, SuccessResponse("评分成功", resp))
	case errors.As(err, &unseen):
		bad := BadRequestResponse("存在训练时未出现的类别", err)
		bad.Data = UnseenCategoryFailure{Feature: unseen.Feature, Value: unseen.Value}
		writeAPIResponse(w, r, bad)
	case errors.Is(err, pipeline.ErrInvalidScoreRequest):
		writeAPIResponse(w, r, BadRequestResponse("评分请求无效", err))
	case errors.Is(err, pipeline.ErrNoModel):
		writeAPIResponse(w, r, NotFoundResponse("没有可用的模型", err))
	default:
		writeAPIResponse(w, r, InternalErrorResponse("评分失败", err))
	}
}
