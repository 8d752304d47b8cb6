package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/internal/interfaces/http/dto"
	"docqa-rag-api/pkg/logger"
)

// QueryPipeline 问答流水线
type QueryPipeline interface {
	Query(ctx context.Context, in rag.QueryInput) (*rag.QueryResult, error)
}

// QueryHandler 问答处理器
type QueryHandler struct {
	pipeline QueryPipeline
}

// NewQueryHandler 创建问答处理器
func NewQueryHandler(pipeline QueryPipeline) *QueryHandler {
	return &QueryHandler{pipeline: pipeline}
}

// Query 基于已入库文档回答问题
// @Summary 文档问答
// @Description 检索相关片段、重排并生成带引用的答案
// @Tags Query
// @Accept json
// @Produce json
// @Param body body dto.QueryRequest true "问答请求"
// @Success 200 {object} dto.Response[dto.QueryResponse]
// @Failure 400 {object} dto.Response[dto.QueryResponse]
// @Failure 502 {object} dto.Response[dto.QueryResponse]
// @Failure 504 {object} dto.Response[dto.QueryResponse]
// @Router /v1/query [post]
func (h *QueryHandler) Query(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	res, err := h.pipeline.Query(ctx, req.ToInput())
	if err != nil {
		appErr := toAppError(err)
		if appErr.HTTPStatus >= 500 {
			logger.Error(ctx, "query failed", err)
		}
		dto.Failure(c, appErr, dto.ToQueryResponse(nil))
		return
	}

	dto.Success(c, dto.ToQueryResponse(res))
}
