package dto

import (
	"time"

	"docqa-rag-api/internal/application/ingest"
	"docqa-rag-api/internal/application/rag"
)

// IngestRequest 文本入库请求
type IngestRequest struct {
	Text      string `json:"text" binding:"required"`
	Source    string `json:"source" binding:"required"`
	Title     string `json:"title,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty" binding:"omitempty,min=1,max=16383"`
	Overlap   int    `json:"overlap,omitempty" binding:"omitempty,min=0"`
}

// ToInput 未指定 chunk_size 时使用默认切分参数
func (r *IngestRequest) ToInput() rag.IngestInput {
	in := rag.IngestInput{Text: r.Text, Source: r.Source, Title: r.Title}
	if r.ChunkSize > 0 {
		in.Chunking = &rag.ChunkOptions{ChunkSize: r.ChunkSize, Overlap: r.Overlap}
	}
	return in
}

// ToJobRequest 转换为异步任务载荷
func (r *IngestRequest) ToJobRequest(requestID string) *ingest.Request {
	return &ingest.Request{
		Text:         r.Text,
		Source:       r.Source,
		Title:        r.Title,
		ChunkSize:    r.ChunkSize,
		ChunkOverlap: r.Overlap,
		RequestID:    requestID,
	}
}

// IngestResponse 入库响应
type IngestResponse struct {
	Source           string  `json:"source"`
	ChunksCreated    int     `json:"chunks_created"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

func ToIngestResponse(source string, res *rag.IngestResult) *IngestResponse {
	if res == nil {
		return &IngestResponse{Source: source}
	}
	return &IngestResponse{
		Source:           source,
		ChunksCreated:    res.ChunksCreated,
		TotalTokens:      res.TotalTokens,
		EstimatedCost:    res.EstimatedCost,
		ProcessingTimeMs: res.ProcessingTimeMs,
	}
}

// JobResponse 异步入库任务状态
type JobResponse struct {
	JobID       string            `json:"job_id"`
	Status      string            `json:"status"`
	Source      string            `json:"source"`
	Title       string            `json:"title,omitempty"`
	Attempts    int               `json:"attempts"`
	Result      *rag.IngestResult `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	FailedStage string            `json:"failed_stage,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func ToJobResponse(job *ingest.Job) *JobResponse {
	return &JobResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		Source:      job.Source,
		Title:       job.Title,
		Attempts:    job.Attempts,
		Result:      job.Result,
		Error:       job.Error,
		FailedStage: string(job.FailedStage),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

// SourceListResponse 来源列表
type SourceListResponse struct {
	Sources []rag.SourceSummary `json:"sources"`
	Total   int                 `json:"total"`
}

// CountResponse 片段计数
type CountResponse struct {
	Count int64 `json:"count"`
}

// ClearResponse 清空结果
type ClearResponse struct {
	Cleared bool `json:"cleared"`
}
