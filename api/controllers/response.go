package controllers

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data"`
	Total  int64       `json:"total" example:"100"`
	Limit  int         `json:"limit" example:"20"`
}

// MessageResponse 报表接口的简单消息体
type MessageResponse struct {
	Message string `json:"message,omitempty" example:"Churn data not found"`
	Status  string `json:"status,omitempty" example:"Churn data updated successfully"`
}

// SuccessResponse 成功响应
func SuccessResponse(msg string, data interface{}) *APIResponse {
	return &APIResponse{Status: 0, Msg: msg, Data: data}
}

// ErrorResponse 错误响应，err 不为空时追加到消息后
func ErrorResponse(status int, msg string, err error) *APIResponse {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &APIResponse{Status: status, Msg: msg}
}

// BadRequestResponse 400
func BadRequestResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusBadRequest, msg, err)
}

// NotFoundResponse 404
func NotFoundResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusNotFound, msg, err)
}

// InternalErrorResponse 500
func InternalErrorResponse(msg string, err error) *APIResponse {
	return ErrorResponse(http.StatusInternalServerError, msg, err)
}

// writeJSON 设置HTTP状态码后输出JSON
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// writeAPIResponse 按响应体中的状态码输出，0 视为 200
func writeAPIResponse(w http.ResponseWriter, r *http.Request, resp *APIResponse) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, r, status, resp)
}
