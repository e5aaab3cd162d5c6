/*
 * @module api/controllers/report_controller
 * @description 报表控制器，提供流失预测与销售报表的读取和替换
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow GET: 当前报表 -> 最近快照 -> 回退文件 -> 404；POST: 校验 -> 替换 -> 通知
 * @rules 报表原样返回，不包裹统一响应结构；替换的报表必须是JSON对象
 * @dependencies github.com/go-chi/render, service/store
 * @refs service/store/report_service.go
 */

package controllers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"insight-service/service/models"
	"insight-service/service/report"
	"insight-service/service/store"
)

// maxReportBytes 单个报表的最大请求体
const maxReportBytes = 16 << 20

// ReportService 报表读写
type ReportService interface {
	Current(ctx context.Context, kind string) ([]byte, error)
	Replace(ctx context.Context, kind, source string, payload []byte) error
}

// ReportController 报表控制器
type ReportController struct {
	reports ReportService
}

// NewReportController 创建报表控制器实例
func NewReportController(reports ReportService) *ReportController {
	return &ReportController{reports: reports}
}

var reportTitles = map[string]string{
	report.KindChurn: "Churn",
	report.KindSales: "Sales",
}

// GetChurn 获取流失预测报表
// @Summary 获取流失预测报表
// @Description 返回最近一次发布的流失预测报表
// @Tags 报表
// @Produce json
// @Success 200 {object} report.ChurnReport
// @Failure 404 {object} MessageResponse
// @Router /api/churn [get]
func (c *ReportController) GetChurn(w http.ResponseWriter, r *http.Request) {
	c.get(w, r, report.KindChurn)
}

// UpdateChurn 替换流失预测报表
// @Summary 替换流失预测报表
// @Description 以请求体替换当前流失预测报表
// @Tags 报表
// @Accept json
// @Produce json
// @Param report body report.ChurnReport true "流失预测报表"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} MessageResponse
// @Security ApiKeyAuth
// @Router /api/churn [post]
func (c *ReportController) UpdateChurn(w http.ResponseWriter, r *http.Request) {
	c.replace(w, r, report.KindChurn)
}

// GetSales 获取销售报表
// @Summary 获取销售报表
// @Description 返回最近一次发布的销售报表
// @Tags 报表
// @Produce json
// @Success 200 {object} report.SalesReport
// @Failure 404 {object} MessageResponse
// @Router /api/sales [get]
func (c *ReportController) GetSales(w http.ResponseWriter, r *http.Request) {
	c.get(w, r, report.KindSales)
}

// UpdateSales 替换销售报表
// @Summary 替换销售报表
// @Description 以请求体替换当前销售报表
// @Tags 报表
// @Accept json
// @Produce json
// @Param report body report.SalesReport true "销售报表"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} MessageResponse
// @Security ApiKeyAuth
// @Router /api/sales [post]
func (c *ReportController) UpdateSales(w http.ResponseWriter, r *http.Request) {
	c.replace(w, r, report.KindSales)
}

func (c *ReportController) get(w http.ResponseWriter, r *http.Request, kind string) {
	payload, err := c.reports.Current(r.Context(), kind)
	if errors.Is(err, store.ErrReportNotFound) {
		writeJSON(w, r, http.StatusNotFound, MessageResponse{Message: reportTitles[kind] + " data not found"})
		return
	}
	if err != nil {
		slog.Error("读取报表失败", "kind", kind, "error", err)
		writeJSON(w, r, http.StatusInternalServerError, MessageResponse{Message: "Server error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (c *ReportController) replace(w http.ResponseWriter, r *http.Request, kind string) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, MessageResponse{Message: "Invalid request body"})
		return
	}

	err = c.reports.Replace(r.Context(), kind, models.SnapshotSourceAPI, payload)
	if errors.Is(err, store.ErrInvalidReport) {
		writeJSON(w, r, http.StatusBadRequest, MessageResponse{Message: "Request body must be a JSON object"})
		return
	}
	if err != nil {
		slog.Error("替换报表失败", "kind", kind, "error", err)
		writeJSON(w, r, http.StatusInternalServerError, MessageResponse{Message: "Server error"})
		return
	}

	writeJSON(w, r, http.StatusOK, MessageResponse{Status: reportTitles[kind] + " data updated successfully"})
}
