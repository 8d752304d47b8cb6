package postgres

import (
	"context"
	"fmt"
	"time"

	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/internal/domain/entity"
	"docqa-rag-api/internal/domain/repository"
)

var (
	_ repository.UsageEventRepository = (*UsageEventRepository)(nil)
	_ rag.UsageRecorder               = (*UsageEventRepository)(nil)
)

type UsageEventRepository struct {
	client *Client
}

func NewUsageEventRepository(client *Client) *UsageEventRepository {
	return &UsageEventRepository{client: client}
}

func (r *UsageEventRepository) Create(ctx context.Context, event *entity.UsageEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageEventRepository.Create")
	defer span.End()

	if err := r.client.db.WithContext(ctx).Create(event).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create usage event: %w", err)
	}
	return nil
}

// Record 写入流水线用量
func (r *UsageEventRepository) Record(ctx context.Context, rec *rag.UsageRecord) error {
	return r.Create(ctx, newUsageEvent(rec))
}

func (r *UsageEventRepository) Summarize(ctx context.Context, since, until time.Time) ([]*entity.UsageSummary, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageEventRepository.Summarize")
	defer span.End()

	q := r.client.db.WithContext(ctx).Model(&entity.UsageEvent{}).
		Select(`pipeline, status,
			COUNT(*) AS runs,
			COALESCE(SUM(embedding_tokens),0) AS embedding_tokens,
			COALESCE(SUM(prompt_tokens),0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens),0) AS completion_tokens,
			COALESCE(SUM(estimated_cost),0) AS estimated_cost,
			COALESCE(AVG(duration_ms),0) AS avg_duration_ms`).
		Where("created_at >= ?", since)
	if !until.IsZero() {
		q = q.Where("created_at < ?", until)
	}

	var out []*entity.UsageSummary
	if err := q.Group("pipeline, status").Order("pipeline, status").Scan(&out).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	return out, nil
}

func newUsageEvent(rec *rag.UsageRecord) *entity.UsageEvent {
	return &entity.UsageEvent{
		Pipeline:         rec.Pipeline,
		Source:           rec.Source,
		Status:           rec.Status,
		FailedStage:      string(rec.FailedStage),
		EmbeddingTokens:  rec.EmbeddingTokens,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		EstimatedCost:    rec.EstimatedCost,
		DurationMs:       rec.DurationMs,
	}
}
