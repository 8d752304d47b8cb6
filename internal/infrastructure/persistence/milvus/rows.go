package milvus

import (
	"fmt"
	"slices"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"docqa-rag-api/internal/application/rag"
)

// buildColumns 将文档转换为按列组织的插入数据，主键列由 Milvus 生成
func buildColumns(docs []rag.VectorDocument, dimension int) ([]entity.Column, error) {
	n := len(docs)
	vectors := make([][]float32, n)
	contents := make([]string, n)
	sources := make([]string, n)
	titles := make([]string, n)
	positions := make([]int64, n)
	chunkSizes := make([]int64, n)
	overlaps := make([]int64, n)
	createdAt := make([]int64, n)

	for i, d := range docs {
		if len(d.Embedding) != dimension {
			return nil, fmt.Errorf("document %d: vector dimension mismatch: expected %d, got %d", i, dimension, len(d.Embedding))
		}
		// 截断正文或来源会破坏原文覆盖与按来源删除，直接拒绝
		if len(d.Content) > maxContentLength {
			return nil, fmt.Errorf("document %d: content is %d bytes, exceeds %d", i, len(d.Content), maxContentLength)
		}
		if len(d.Metadata.Source) > maxSourceLength {
			return nil, fmt.Errorf("document %d: source is %d bytes, exceeds %d", i, len(d.Metadata.Source), maxSourceLength)
		}
		vectors[i] = d.Embedding
		contents[i] = d.Content
		sources[i] = d.Metadata.Source
		titles[i] = clip(d.Metadata.Title, maxSourceLength)
		positions[i] = int64(d.Metadata.Position)
		chunkSizes[i] = int64(d.Metadata.ChunkSize)
		overlaps[i] = int64(d.Metadata.Overlap)
		createdAt[i] = d.Metadata.CreatedAt.UnixMilli()
	}

	return []entity.Column{
		entity.NewColumnFloatVector(fieldVector, dimension, vectors),
		entity.NewColumnVarChar(fieldContent, contents),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnVarChar(fieldTitle, titles),
		entity.NewColumnInt64(fieldPosition, positions),
		entity.NewColumnInt64(fieldChunkSize, chunkSizes),
		entity.NewColumnInt64(fieldOverlap, overlaps),
		entity.NewColumnInt64(fieldCreatedAt, createdAt),
	}, nil
}

// parseRows 从检索结果列中还原前 n 行
func parseRows(fields client.ResultSet, ids entity.Column, n int) []rag.SearchResult {
	out := make([]rag.SearchResult, n)

	if idCol, ok := ids.(*entity.ColumnInt64); ok {
		for i, id := range idCol.Data() {
			if i < n {
				out[i].ID = id
			}
		}
	}
	fillString(fields, fieldContent, n, func(i int, s string) { out[i].Content = s })
	fillString(fields, fieldSource, n, func(i int, s string) { out[i].Metadata.Source = s })
	fillString(fields, fieldTitle, n, func(i int, s string) { out[i].Metadata.Title = s })
	fillInt64(fields, fieldPosition, n, func(i int, x int64) { out[i].Metadata.Position = int(x) })
	fillInt64(fields, fieldChunkSize, n, func(i int, x int64) { out[i].Metadata.ChunkSize = int(x) })
	fillInt64(fields, fieldOverlap, n, func(i int, x int64) { out[i].Metadata.Overlap = int(x) })
	fillInt64(fields, fieldCreatedAt, n, func(i int, x int64) { out[i].Metadata.CreatedAt = time.UnixMilli(x).UTC() })
	return out
}

func fillString(fields client.ResultSet, name string, n int, set func(int, string)) {
	col, ok := fields.GetColumn(name).(*entity.ColumnVarChar)
	if !ok {
		return
	}
	for i, s := range col.Data() {
		if i >= n {
			break
		}
		set(i, s)
	}
}

func fillInt64(fields client.ResultSet, name string, n int, set func(int, int64)) {
	col, ok := fields.GetColumn(name).(*entity.ColumnInt64)
	if !ok {
		return
	}
	for i, x := range col.Data() {
		if i >= n {
			break
		}
		set(i, x)
	}
}

// aggregateSources 按来源计数，FirstSeen 取最早写入时间，最近出现的来源排在前面
func aggregateSources(sources, titles []string, createdAt []int64) []rag.SourceSummary {
	type agg struct {
		summary rag.SourceSummary
		first   int64
	}
	bySource := make(map[string]*agg)
	order := make([]string, 0)
	for i, src := range sources {
		var ts int64
		if i < len(createdAt) {
			ts = createdAt[i]
		}
		a, ok := bySource[src]
		if !ok {
			a = &agg{summary: rag.SourceSummary{Source: src}, first: ts}
			bySource[src] = a
			order = append(order, src)
		}
		a.summary.ChunkCount++
		if ts < a.first {
			a.first = ts
		}
		if a.summary.Title == "" && i < len(titles) {
			a.summary.Title = titles[i]
		}
	}

	out := make([]rag.SourceSummary, 0, len(order))
	for _, src := range order {
		a := bySource[src]
		a.summary.FirstSeen = time.UnixMilli(a.first).UTC()
		out = append(out, a.summary)
	}
	slices.SortStableFunc(out, func(a, b rag.SourceSummary) int {
		return b.FirstSeen.Compare(a.FirstSeen)
	})
	return out
}

// clip 按字节上限截断标题，保持 UTF-8 完整
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return s[:cut]
}
