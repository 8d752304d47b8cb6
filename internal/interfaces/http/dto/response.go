// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa-rag-api/pkg/errors"
)

// Response 统一响应结构
type Response[T any] struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	Data      T      `json:"data"`
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	ErrorCode string `json:"error_code,omitempty"`
	Details   string `json:"details,omitempty"`
}

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Code      int          `json:"code"`
	Message   string       `json:"message"`
	Error     *ErrorDetail `json:"error,omitempty"`
	TraceID   string       `json:"trace_id,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

func respond[T any](c *gin.Context, status int, message string, data T) {
	c.JSON(status, Response[T]{
		Code:      status,
		Message:   message,
		Data:      data,
		TraceID:   c.GetString("trace_id"),
		RequestID: c.GetString("request_id"),
	})
}

// Success 返回成功响应
func Success[T any](c *gin.Context, data T) {
	respond(c, http.StatusOK, "success", data)
}

// Accepted 返回接受处理响应 (202)
func Accepted[T any](c *gin.Context, data T) {
	respond(c, http.StatusAccepted, "accepted", data)
}

// Failure 返回错误状态码，同时保留与成功响应相同结构的 data（零值）
func Failure[T any](c *gin.Context, appErr *errors.AppError, data T) {
	c.JSON(appErr.HTTPStatus, Response[T]{
		Code:      appErr.HTTPStatus,
		Message:   appErr.Message,
		ErrorCode: string(appErr.Code),
		Data:      data,
		TraceID:   c.GetString("trace_id"),
		RequestID: c.GetString("request_id"),
	})
}

// Error 返回错误响应
func Error(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, ErrorResponse{
		Code:      httpCode,
		Message:   message,
		TraceID:   c.GetString("trace_id"),
		RequestID: c.GetString("request_id"),
	})
}

// AppError 按应用错误码返回错误响应
func AppError(c *gin.Context, appErr *errors.AppError) {
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		Code:    appErr.HTTPStatus,
		Message: appErr.Message,
		Error: &ErrorDetail{
			ErrorCode: string(appErr.Code),
			Details:   appErr.Detail,
		},
		TraceID:   c.GetString("trace_id"),
		RequestID: c.GetString("request_id"),
	})
}

// AbortWithAppError 中间件中终止请求并返回错误
func AbortWithAppError(c *gin.Context, appErr *errors.AppError) {
	AppError(c, appErr)
	c.Abort()
}

// BadRequest 返回 400 错误
func BadRequest(c *gin.Context, message string) {
	AppError(c, errors.New(errors.CodeInvalidParam, message))
}

// NotFound 返回 404 错误
func NotFound(c *gin.Context, message string) {
	AppError(c, errors.New(errors.CodeNotFound, message))
}

// InternalError 返回 500 错误
func InternalError(c *gin.Context, message string) {
	AppError(c, errors.New(errors.CodeInternalError, message))
}

// ServiceUnavailable 返回 503 错误
func ServiceUnavailable(c *gin.Context, message string) {
	AppError(c, errors.New(errors.CodeServiceUnavailable, message))
}
