package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"docqa-rag-api/internal/application/extract"
	"docqa-rag-api/internal/application/ingest"
	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/internal/interfaces/http/dto"
	"docqa-rag-api/pkg/logger"
)

// DocumentPipeline 文档入库与索引管理
type DocumentPipeline interface {
	Ingest(ctx context.Context, in rag.IngestInput) (*rag.IngestResult, error)
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Sources(ctx context.Context) ([]rag.SourceSummary, error)
}

// JobService 异步入库任务
type JobService interface {
	Submit(ctx context.Context, req *ingest.Request) (*ingest.Job, error)
	Status(ctx context.Context, id string) (*ingest.Job, error)
}

// DocumentHandler 文档处理器
type DocumentHandler struct {
	pipeline  DocumentPipeline
	jobs      JobService
	extractor *extract.Extractor
}

// NewDocumentHandler 创建文档处理器，jobs 为 nil 时异步入库不可用
func NewDocumentHandler(pipeline DocumentPipeline, jobs JobService, extractor *extract.Extractor) *DocumentHandler {
	if extractor == nil {
		extractor = extract.NewExtractor(0)
	}
	return &DocumentHandler{pipeline: pipeline, jobs: jobs, extractor: extractor}
}

// Ingest 同步入库一段文本
// @Summary 文本入库
// @Tags Documents
// @Accept json
// @Produce json
// @Param body body dto.IngestRequest true "入库请求"
// @Success 200 {object} dto.Response[dto.IngestResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /v1/documents [post]
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	h.ingest(c, req.Source, req.ToInput())
}

// Upload 上传纯文本文件入库
// @Summary 文件入库
// @Description 支持 .txt / .md / .csv / .json 及 text/* 类型
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文档"
// @Param source formData string false "来源标识，默认为文件名"
// @Param title formData string false "标题"
// @Success 200 {object} dto.Response[dto.IngestResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 415 {object} dto.ErrorResponse
// @Router /v1/documents/upload [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		dto.BadRequest(c, "file is required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		dto.BadRequest(c, "failed to open uploaded file")
		return
	}
	defer f.Close()

	text, err := h.extractor.Extract(fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		dto.AppError(c, toAppError(err))
		return
	}

	source := strings.TrimSpace(c.PostForm("source"))
	if source == "" {
		source = fh.Filename
	}
	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = fh.Filename
	}

	h.ingest(c, source, rag.IngestInput{Text: text, Source: source, Title: title})
}

func (h *DocumentHandler) ingest(c *gin.Context, source string, in rag.IngestInput) {
	source = strings.TrimSpace(source)
	ctx := c.Request.Context()
	res, err := h.pipeline.Ingest(ctx, in)
	if err != nil {
		appErr := toAppError(err)
		if appErr.HTTPStatus >= 500 {
			logger.Error(ctx, "ingest failed", err, "source", source)
		}
		dto.AppError(c, appErr)
		return
	}
	dto.Success(c, dto.ToIngestResponse(source, res))
}

// IngestAsync 提交异步入库任务
// @Summary 异步文本入库
// @Tags Documents
// @Accept json
// @Produce json
// @Param body body dto.IngestRequest true "入库请求"
// @Success 202 {object} dto.Response[dto.JobResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/documents/async [post]
func (h *DocumentHandler) IngestAsync(c *gin.Context) {
	if h.jobs == nil {
		dto.ServiceUnavailable(c, "async ingestion is not enabled")
		return
	}
	ctx := c.Request.Context()

	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	job, err := h.jobs.Submit(ctx, req.ToJobRequest(c.GetString("request_id")))
	if err != nil {
		appErr := toAppError(err)
		if appErr.HTTPStatus >= 500 {
			logger.Error(ctx, "failed to submit ingest job", err)
		}
		dto.AppError(c, appErr)
		return
	}
	dto.Accepted(c, dto.ToJobResponse(job))
}

// GetJob 查询异步入库任务
// @Summary 入库任务状态
// @Tags Documents
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} dto.Response[dto.JobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/documents/jobs/{id} [get]
func (h *DocumentHandler) GetJob(c *gin.Context) {
	if h.jobs == nil {
		dto.ServiceUnavailable(c, "async ingestion is not enabled")
		return
	}
	job, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		dto.AppError(c, toAppError(err))
		return
	}
	dto.Success(c, dto.ToJobResponse(job))
}

// Sources 列出已入库来源
// @Summary 来源列表
// @Tags Documents
// @Produce json
// @Success 200 {object} dto.Response[dto.SourceListResponse]
// @Router /v1/documents/sources [get]
func (h *DocumentHandler) Sources(c *gin.Context) {
	sources, err := h.pipeline.Sources(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list sources", err)
		dto.AppError(c, toAppError(err))
		return
	}
	dto.Success(c, &dto.SourceListResponse{Sources: sources, Total: len(sources)})
}

// Count 片段总数
// @Summary 片段计数
// @Tags Documents
// @Produce json
// @Success 200 {object} dto.Response[dto.CountResponse]
// @Router /v1/documents/count [get]
func (h *DocumentHandler) Count(c *gin.Context) {
	n, err := h.pipeline.Count(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "failed to count chunks", err)
		dto.AppError(c, toAppError(err))
		return
	}
	dto.Success(c, &dto.CountResponse{Count: n})
}

// Clear 清空索引
// @Summary 清空索引
// @Tags Documents
// @Produce json
// @Success 200 {object} dto.Response[dto.ClearResponse]
// @Router /v1/documents [delete]
func (h *DocumentHandler) Clear(c *gin.Context) {
	if err := h.pipeline.Clear(c.Request.Context()); err != nil {
		logger.Error(c.Request.Context(), "failed to clear index", err)
		dto.AppError(c, toAppError(err))
		return
	}
	dto.Success(c, &dto.ClearResponse{Cleared: true})
}
