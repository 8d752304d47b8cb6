package rag

import "context"

// EmbeddingBatch 一次 Embedding 调用的结果。
type EmbeddingBatch struct {
	Vectors [][]float32
	// Tokens 服务端报告的 token 数，0 表示未报告
	Tokens int
}

// EmbeddingProvider 外部 Embedding 服务。
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) (*EmbeddingBatch, error)
}

// Scorer 为 (query, passage) 打分，返回与 passages 等长的分数。
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// QueryEmbeddingCache 查询向量缓存，未命中时调用 loader。
type QueryEmbeddingCache interface {
	GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) ([]float32, error)) ([]float32, error)
}

// UsageRecord 一次流水线运行的用量流水。
type UsageRecord struct {
	Pipeline         string
	Source           string
	Status           string
	FailedStage      Stage
	EmbeddingTokens  int
	PromptTokens     int
	CompletionTokens int
	EstimatedCost    float64
	DurationMs       int64
}

// UsageRecorder 用量流水的持久化（可选）。
type UsageRecorder interface {
	Record(ctx context.Context, rec *UsageRecord) error
}
