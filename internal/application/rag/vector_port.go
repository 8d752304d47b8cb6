package rag

import "context"

// VectorIndex 定义应用层对“向量存储/检索”的最小依赖（port）。
// 由基础设施层提供具体实现（Milvus 或进程内实现）。
type VectorIndex interface {
	// Upsert 写入一批文档，返回存储分配的 ID（与 docs 顺序一致）。
	// 返回错误时不应留下本批次的任何片段。
	Upsert(ctx context.Context, docs []VectorDocument) ([]int64, error)
	// SimilaritySearch 返回按相似度降序排列的至多 topK 条结果；空库返回空切片。
	SimilaritySearch(ctx context.Context, query []float32, topK int) ([]SearchResult, error)
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	// ListSources 按来源聚合，最近写入的来源在前。
	ListSources(ctx context.Context) ([]SourceSummary, error)
	// Delete 按 ID 删除片段。
	Delete(ctx context.Context, ids []int64) error
	// DeleteBySource 删除某个来源下 ID 不在 keep 中的片段，keep 为空时删除该来源全部片段。
	DeleteBySource(ctx context.Context, source string, keep []int64) error
}
