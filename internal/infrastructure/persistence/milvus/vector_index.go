package milvus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/pkg/metrics"
	tracing "docqa-rag-api/pkg/tracer"
)

var _ rag.VectorIndex = (*VectorIndex)(nil)

// VectorIndex 基于 Milvus 的向量索引，单集合 + HNSW/COSINE。
type VectorIndex struct {
	client     *Client
	dimension  int
	collection string
}

// NewVectorIndex 创建向量索引，调用方需先执行 EnsureCollection。
func NewVectorIndex(c *Client, dimension int) *VectorIndex {
	if dimension <= 0 {
		dimension = DefaultVectorDimension
	}
	return &VectorIndex{
		client:     c,
		dimension:  dimension,
		collection: collectionName(c.config.CollectionPrefix),
	}
}

// EnsureCollection 确保集合与索引可用（不存在则创建），并加载到内存。
// 不做 drop/rebuild 等破坏性操作。
func (v *VectorIndex) EnsureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollection",
		trace.WithAttributes(attribute.String("collection", v.collection)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	exists, err := v.client.milvus.HasCollection(ctx, v.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if err = v.client.milvus.CreateCollection(ctx, DocumentChunksSchema(v.collection, v.dimension), entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		if err = v.createIndex(ctx); err != nil {
			return err
		}
	}

	if err = v.client.milvus.LoadCollection(ctx, v.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (v *VectorIndex) createIndex(ctx context.Context) error {
	m := v.client.config.HNSWM
	if m <= 0 {
		m = 16
	}
	efc := v.client.config.HNSWEfConstruction
	if efc <= 0 {
		efc = 200
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, m, efc)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := v.client.milvus.CreateIndex(ctx, v.collection, fieldVector, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (v *VectorIndex) Upsert(ctx context.Context, docs []rag.VectorDocument) ([]int64, error) {
	if len(docs) == 0 {
		return []int64{}, nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Upsert",
		trace.WithAttributes(
			attribute.String("collection", v.collection),
			attribute.Int("count", len(docs)),
		))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	cols, err := buildColumns(docs, v.dimension)
	if err != nil {
		return nil, err
	}
	idCol, err := v.client.milvus.Insert(ctx, v.collection, "", cols...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chunks: %w", err)
	}
	ids, ok := idCol.(*entity.ColumnInt64)
	if !ok || ids.Len() != len(docs) {
		err = fmt.Errorf("unexpected primary keys returned for %d chunks", len(docs))
		return nil, err
	}
	// 写入后立即可查；flush 失败时撤回本批次
	if err = v.client.milvus.Flush(ctx, v.collection, false); err != nil {
		if rbErr := v.client.milvus.DeleteByPks(context.WithoutCancel(ctx), v.collection, "", ids); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback inserted chunks: %w", rbErr))
		}
		return nil, fmt.Errorf("failed to flush collection: %w", err)
	}
	return ids.Data(), nil
}

func (v *VectorIndex) SimilaritySearch(ctx context.Context, query []float32, topK int) ([]rag.SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(query) != v.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", v.dimension, len(query))
	}

	ctx, span := tracer.Start(ctx, "milvus.SimilaritySearch",
		trace.WithAttributes(
			attribute.String("collection", v.collection),
			attribute.Int("top_k", topK),
		))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.MilvusSearchTotal.WithLabelValues(CollectionDocumentChunks, status).Inc()
		metrics.MilvusSearchDuration.WithLabelValues(CollectionDocumentChunks).Observe(time.Since(start).Seconds())
	}()

	// ef 不能小于 topK
	sp, err := entity.NewIndexHNSWSearchParam(max(v.client.config.HNSWEfSearch, topK, 64))
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := v.client.milvus.Search(ctx,
		v.collection,
		nil,
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(query)},
		fieldVector,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	out := make([]rag.SearchResult, 0, topK)
	for _, r := range results {
		rows := parseRows(r.Fields, r.IDs, r.ResultCount)
		for i := range rows {
			if i < len(r.Scores) {
				// COSINE 度量下分数即相似度
				rows[i].Similarity = float64(r.Scores[i])
			}
		}
		out = append(out, rows...)
	}
	slices.SortStableFunc(out, func(a, b rag.SearchResult) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return 0
		}
	})
	if len(out) > topK {
		out = out[:topK]
	}

	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

func (v *VectorIndex) Count(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "milvus.Count",
		trace.WithAttributes(attribute.String("collection", v.collection)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	rs, err := v.client.milvus.Query(ctx, v.collection, nil, "", []string{"count(*)"},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	col, ok := rs.GetColumn("count(*)").(*entity.ColumnInt64)
	if !ok || col.Len() == 0 {
		return 0, nil
	}
	return col.Data()[0], nil
}

// Clear 删除并重建集合
func (v *VectorIndex) Clear(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.Clear",
		trace.WithAttributes(attribute.String("collection", v.collection)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	exists, err := v.client.milvus.HasCollection(ctx, v.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		if err = v.client.milvus.DropCollection(ctx, v.collection); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}
	err = v.EnsureCollection(ctx)
	return err
}

func (v *VectorIndex) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Delete",
		trace.WithAttributes(
			attribute.String("collection", v.collection),
			attribute.Int("count", len(ids)),
		))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if err = v.client.milvus.DeleteByPks(ctx, v.collection, "", entity.NewColumnInt64(fieldID, ids)); err != nil {
		return fmt.Errorf("failed to delete %d chunks: %w", len(ids), err)
	}
	return nil
}

func (v *VectorIndex) DeleteBySource(ctx context.Context, source string, keep []int64) error {
	ctx, span := tracer.Start(ctx, "milvus.DeleteBySource",
		trace.WithAttributes(
			attribute.String("collection", v.collection),
			attribute.String("source", source),
			attribute.Int("keep", len(keep)),
		))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if err = v.client.milvus.Delete(ctx, v.collection, "", staleSourceFilter(source, keep)); err != nil {
		return fmt.Errorf("failed to delete chunks of %q: %w", source, err)
	}
	return nil
}

// ListSources 扫描至多 ListLimit 行标量字段并按来源聚合
func (v *VectorIndex) ListSources(ctx context.Context) ([]rag.SourceSummary, error) {
	ctx, span := tracer.Start(ctx, "milvus.ListSources",
		trace.WithAttributes(attribute.String("collection", v.collection)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	limit := v.client.config.ListLimit
	if limit <= 0 {
		limit = 16384
	}
	rs, err := v.client.milvus.Query(ctx, v.collection, nil, fieldID+" >= 0",
		[]string{fieldSource, fieldTitle, fieldCreatedAt},
		client.WithLimit(int64(limit)),
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	sources, _ := rs.GetColumn(fieldSource).(*entity.ColumnVarChar)
	titles, _ := rs.GetColumn(fieldTitle).(*entity.ColumnVarChar)
	created, _ := rs.GetColumn(fieldCreatedAt).(*entity.ColumnInt64)
	if sources == nil {
		return []rag.SourceSummary{}, nil
	}
	var titleData []string
	if titles != nil {
		titleData = titles.Data()
	}
	var createdData []int64
	if created != nil {
		createdData = created.Data()
	}
	return aggregateSources(sources.Data(), titleData, createdData), nil
}
