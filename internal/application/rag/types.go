package rag

import "time"

// Chunk 文档切分后的一个片段。
type Chunk struct {
	Content   string
	Position  int
	SourceID  string
	Title     string
	ChunkSize int
	Overlap   int
	// Offset 片段在原文中的起始位置（按 rune 计）
	Offset int
}

// ChunkMetadata 随向量一起写入索引的元信息。
type ChunkMetadata struct {
	Source    string    `json:"source"`
	Title     string    `json:"title,omitempty"`
	Position  int       `json:"position"`
	ChunkSize int       `json:"chunk_size"`
	Overlap   int       `json:"overlap"`
	CreatedAt time.Time `json:"created_at"`
}

// VectorDocument 写入向量索引的一条记录。
type VectorDocument struct {
	Content   string
	Embedding []float32
	Metadata  ChunkMetadata
}

// SearchResult 相似度检索的一条结果，Similarity 越大越相近。
type SearchResult struct {
	ID         int64
	Content    string
	Metadata   ChunkMetadata
	Similarity float64
}

// RerankedResult 重排后的结果。
type RerankedResult struct {
	SearchResult
	RerankScore float64
}

// Citation 答案中引用的来源片段，Index 从 1 开始。
type Citation struct {
	Index       int     `json:"index"`
	Content     string  `json:"content"`
	Source      string  `json:"source"`
	Title       string  `json:"title,omitempty"`
	Position    int     `json:"position"`
	RerankScore float64 `json:"rerank_score"`
	Similarity  float64 `json:"similarity"`
}

// UsageStats token 与费用统计。
type UsageStats struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Add 累加另一份统计。
func (u UsageStats) Add(o UsageStats) UsageStats {
	return UsageStats{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		EstimatedCost:    u.EstimatedCost + o.EstimatedCost,
	}
}

// PipelineTiming 问答各阶段耗时（毫秒）。TotalMs 不小于各阶段之和。
type PipelineTiming struct {
	RetrievalMs int64 `json:"retrieval_ms"`
	RerankMs    int64 `json:"rerank_ms"`
	LLMMs       int64 `json:"llm_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// SourceSummary 按来源聚合的索引内容概览。
type SourceSummary struct {
	Source     string    `json:"source"`
	Title      string    `json:"title,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	FirstSeen  time.Time `json:"first_seen"`
}
