// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"docqa-rag-api/internal/domain/entity"
)

// UsageEventRepository 用量流水仓储
type UsageEventRepository interface {
	Create(ctx context.Context, event *entity.UsageEvent) error
	// Summarize 统计 [since, until) 区间内的用量，until 为零值表示不设上限
	Summarize(ctx context.Context, since, until time.Time) ([]*entity.UsageSummary, error)
}
