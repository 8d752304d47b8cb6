// Package entity 定义领域实体
package entity

import "time"

// UsageEvent 一次入库或问答运行的用量流水
type UsageEvent struct {
	ID               string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Pipeline         string    `json:"pipeline" gorm:"type:varchar(16);index;not null"`
	Source           string    `json:"source,omitempty" gorm:"type:varchar(512)"`
	Status           string    `json:"status" gorm:"type:varchar(16);not null"`
	FailedStage      string    `json:"failed_stage,omitempty" gorm:"type:varchar(32)"`
	EmbeddingTokens  int       `json:"embedding_tokens" gorm:"not null;default:0"`
	PromptTokens     int       `json:"prompt_tokens" gorm:"not null;default:0"`
	CompletionTokens int       `json:"completion_tokens" gorm:"not null;default:0"`
	EstimatedCost    float64   `json:"estimated_cost" gorm:"type:numeric(14,8);not null;default:0"`
	DurationMs       int64     `json:"duration_ms" gorm:"not null;default:0"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

func (UsageEvent) TableName() string {
	return "usage_events"
}

// UsageSummary 按流水线与状态聚合的用量
type UsageSummary struct {
	Pipeline         string  `json:"pipeline"`
	Status           string  `json:"status"`
	Runs             int64   `json:"runs"`
	EmbeddingTokens  int64   `json:"embedding_tokens"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
}
