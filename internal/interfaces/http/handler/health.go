// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker 依赖健康检查
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependency 就绪检查项，Required 为 false 时失败只标记 degraded
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Required bool
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version string
	deps    []Dependency
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(version string, deps ...Dependency) *HealthHandler {
	return &HealthHandler{version: version, deps: deps}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks,omitempty"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Description 检查服务健康状态
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Ready 就绪检查接口
// @Summary 就绪检查
// @Description 检查向量库、缓存与账本是否可用
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]*readinessCheck, len(h.deps))
	ready := true

	for _, dep := range h.deps {
		check := &readinessCheck{Status: "unknown"}
		checks[dep.Name] = check

		if dep.Checker == nil {
			check.Status = "disabled"
			continue
		}

		start := time.Now()
		err := dep.Checker.HealthCheck(ctx)
		check.LatencyMs = time.Since(start).Milliseconds()
		switch {
		case err == nil:
			check.Status = "ok"
		case dep.Required:
			check.Status = "error"
			check.Error = err.Error()
			ready = false
		default:
			check.Status = "degraded"
			check.Error = err.Error()
		}
	}

	resp := readinessResponse{Status: "ok", Checks: checks}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Live 存活检查接口
// @Summary 存活检查
// @Description 检查服务是否存活
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
