package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docqa-rag-api/internal/application/ingest"
)

const jobKeyPrefix = "rag:job:"

var _ ingest.JobStore = (*JobStore)(nil)

// JobStore 入库任务状态存储，每个任务一个 JSON 值，过期后自动清理
type JobStore struct {
	client *Client
	ttl    time.Duration
}

func NewJobStore(client *Client, ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &JobStore{client: client, ttl: ttl}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *JobStore) Save(ctx context.Context, job *ingest.Job) error {
	ctx, span := tracer.Start(ctx, "jobstore.Save",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.status", string(job.Status)),
		))
	defer span.End()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.client.rdb.Set(ctx, jobKey(job.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*ingest.Job, error) {
	ctx, span := tracer.Start(ctx, "jobstore.Get",
		trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	raw, err := s.client.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if IsNil(err) {
			return nil, ingest.ErrJobNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job ingest.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
