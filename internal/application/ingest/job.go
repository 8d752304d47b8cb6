// Package ingest 异步文档入库：任务提交、状态跟踪与后台执行。
package ingest

import (
	"context"
	"errors"
	"time"

	"docqa-rag-api/internal/application/rag"
)

// ErrJobNotFound 任务不存在或已过期。
var ErrJobNotFound = errors.New("ingest job not found")

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal 是否为终态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job 入库任务的状态快照
type Job struct {
	ID          string            `json:"id"`
	Status      JobStatus         `json:"status"`
	Source      string            `json:"source"`
	Title       string            `json:"title,omitempty"`
	Attempts    int               `json:"attempts"`
	Result      *rag.IngestResult `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	FailedStage rag.Stage         `json:"failed_stage,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Request 投递到队列的任务载荷
type Request struct {
	JobID        string `json:"job_id"`
	Text         string `json:"text"`
	Source       string `json:"source"`
	Title        string `json:"title,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

// Input 转换为流水线入参，未指定切分参数时使用默认值
func (r *Request) Input() rag.IngestInput {
	in := rag.IngestInput{Text: r.Text, Source: r.Source, Title: r.Title}
	if r.ChunkSize > 0 {
		in.Chunking = &rag.ChunkOptions{ChunkSize: r.ChunkSize, Overlap: r.ChunkOverlap}
	}
	return in
}

// JobStore 任务状态存储
type JobStore interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
}

// Queue 任务队列
type Queue interface {
	Enqueue(ctx context.Context, req *Request) error
}

// Ingester 同步入库能力，由 rag.Pipeline 提供
type Ingester interface {
	ValidateIngest(in rag.IngestInput) error
	Ingest(ctx context.Context, in rag.IngestInput) (*rag.IngestResult, error)
}
