package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/pkg/logger"
)

// Service 异步入库服务
type Service struct {
	ingester Ingester
	store    JobStore
	queue    Queue
	now      func() time.Time
}

func NewService(ingester Ingester, store JobStore, queue Queue) *Service {
	return &Service{
		ingester: ingester,
		store:    store,
		queue:    queue,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit 校验输入后登记任务并投递到队列。
// 校验失败直接返回错误，不会产生任务。
func (s *Service) Submit(ctx context.Context, req *Request) (*Job, error) {
	if err := s.ingester.ValidateIngest(req.Input()); err != nil {
		return nil, err
	}

	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	now := s.now()
	job := &Job{
		ID:        req.JobID,
		Status:    JobStatusQueued,
		Source:    req.Source,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		job.Status = JobStatusFailed
		job.Error = "enqueue failed"
		job.UpdatedAt = s.now()
		if saveErr := s.store.Save(context.WithoutCancel(ctx), job); saveErr != nil {
			logger.Warn(ctx, "failed to mark job failed after enqueue error", "job_id", job.ID, "error", saveErr)
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.Info(ctx, "ingest job queued", "job_id", job.ID, "source", job.Source)
	return job, nil
}

// Status 查询任务状态
func (s *Service) Status(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Process 执行一次入库尝试。
// 校验错误不可重试，记为失败并返回 nil；其它错误返回给调用方触发重试。
func (s *Service) Process(ctx context.Context, req *Request) error {
	ctx = logger.WithContext(ctx, logger.JobIDKey, req.JobID)

	job, err := s.store.Get(ctx, req.JobID)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			return err
		}
		// 状态已过期，按新任务继续执行
		now := s.now()
		job = &Job{ID: req.JobID, Source: req.Source, Title: req.Title, CreatedAt: now}
	}
	if job.Status.IsTerminal() {
		logger.Info(ctx, "ingest job already finished, skipping", "status", job.Status)
		return nil
	}

	job.Status = JobStatusRunning
	job.Attempts++
	job.Error = ""
	job.FailedStage = ""
	job.UpdatedAt = s.now()
	if err := s.store.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	res, ingestErr := s.ingester.Ingest(ctx, req.Input())
	job.UpdatedAt = s.now()
	if ingestErr == nil {
		job.Status = JobStatusSucceeded
		job.Result = res
		return s.store.Save(ctx, job)
	}

	job.Error = ingestErr.Error()
	var se *rag.StageError
	if errors.As(ingestErr, &se) {
		job.FailedStage = se.Stage
	}
	if rag.IsValidation(ingestErr) {
		job.Status = JobStatusFailed
		if err := s.store.Save(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
		logger.Warn(ctx, "ingest job rejected", "error", ingestErr)
		return nil
	}

	// 回到排队状态，由队列决定重试或进入死信
	job.Status = JobStatusQueued
	if err := s.store.Save(ctx, job); err != nil {
		logger.Error(ctx, "failed to save job", err)
	}
	return ingestErr
}

// MarkFailed 重试耗尽后将任务置为失败
func (s *Service) MarkFailed(ctx context.Context, jobID string, cause error) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = JobStatusFailed
	if cause != nil {
		job.Error = cause.Error()
	}
	job.UpdatedAt = s.now()
	return s.store.Save(ctx, job)
}
