package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"docqa-rag-api/internal/domain/repository"
	"docqa-rag-api/internal/interfaces/http/dto"
	"docqa-rag-api/pkg/logger"
)

const defaultUsageWindow = 24 * time.Hour

// UsageHandler 用量统计处理器
type UsageHandler struct {
	repo repository.UsageEventRepository
	now  func() time.Time
}

// NewUsageHandler repo 为 nil 时接口返回 503
func NewUsageHandler(repo repository.UsageEventRepository) *UsageHandler {
	return &UsageHandler{repo: repo, now: time.Now}
}

// Summary 用量汇总
// @Summary 用量汇总
// @Description 按流水线与状态统计 token 与预估费用，window 为时间窗口（如 24h、168h），默认 24h
// @Tags Usage
// @Produce json
// @Param window query string false "统计窗口"
// @Success 200 {object} dto.Response[dto.UsageSummaryResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/usage/summary [get]
func (h *UsageHandler) Summary(c *gin.Context) {
	if h.repo == nil {
		dto.ServiceUnavailable(c, "usage ledger is not enabled")
		return
	}
	ctx := c.Request.Context()

	window := defaultUsageWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			dto.BadRequest(c, "invalid window: "+raw)
			return
		}
		window = d
	}

	until := h.now().UTC()
	since := until.Add(-window)
	items, err := h.repo.Summarize(ctx, since, until)
	if err != nil {
		logger.Error(ctx, "failed to summarize usage", err)
		dto.InternalError(c, "failed to summarize usage")
		return
	}
	dto.Success(c, dto.ToUsageSummaryResponse(since, until, items))
}
