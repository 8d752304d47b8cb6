// Package memory 提供进程内的向量索引实现，用于本地开发与测试。
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"docqa-rag-api/internal/application/rag"
)

var _ rag.VectorIndex = (*VectorIndex)(nil)

type record struct {
	id   int64
	doc  rag.VectorDocument
	norm float64
}

// VectorIndex 基于暴力余弦相似度的进程内索引。
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	nextID    int64
	records   []record
}

// NewVectorIndex 创建索引，dimension <= 0 时不校验维度。
func NewVectorIndex(dimension int) *VectorIndex {
	return &VectorIndex{dimension: dimension, nextID: 1}
}

func (s *VectorIndex) Upsert(_ context.Context, docs []rag.VectorDocument) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range docs {
		if s.dimension > 0 && len(d.Embedding) != s.dimension {
			return nil, fmt.Errorf("document %d: vector dimension mismatch: expected %d, got %d", i, s.dimension, len(d.Embedding))
		}
	}
	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = s.nextID
		s.records = append(s.records, record{id: s.nextID, doc: d, norm: norm(d.Embedding)})
		s.nextID++
	}
	return ids, nil
}

func (s *VectorIndex) SimilaritySearch(_ context.Context, query []float32, topK int) ([]rag.SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if s.dimension > 0 && len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(query))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	qn := norm(query)
	results := make([]rag.SearchResult, 0, len(s.records))
	for _, r := range s.records {
		results = append(results, rag.SearchResult{
			ID:         r.id,
			Content:    r.doc.Content,
			Metadata:   r.doc.Metadata,
			Similarity: cosine(r.doc.Embedding, query, r.norm, qn),
		})
	}
	slices.SortStableFunc(results, func(a, b rag.SearchResult) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return 0
		}
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *VectorIndex) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *VectorIndex) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

func (s *VectorIndex) Delete(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = slices.DeleteFunc(s.records, func(r record) bool {
		return slices.Contains(ids, r.id)
	})
	return nil
}

func (s *VectorIndex) DeleteBySource(_ context.Context, source string, keep []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = slices.DeleteFunc(s.records, func(r record) bool {
		return r.doc.Metadata.Source == source && !slices.Contains(keep, r.id)
	})
	return nil
}

func (s *VectorIndex) ListSources(_ context.Context) ([]rag.SourceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySource := make(map[string]*rag.SourceSummary)
	order := make([]string, 0)
	for _, r := range s.records {
		m := r.doc.Metadata
		sum, ok := bySource[m.Source]
		if !ok {
			sum = &rag.SourceSummary{Source: m.Source, Title: m.Title, FirstSeen: m.CreatedAt}
			bySource[m.Source] = sum
			order = append(order, m.Source)
		}
		sum.ChunkCount++
		if m.CreatedAt.Before(sum.FirstSeen) {
			sum.FirstSeen = m.CreatedAt
		}
		if sum.Title == "" {
			sum.Title = m.Title
		}
	}

	out := make([]rag.SourceSummary, 0, len(order))
	for _, src := range order {
		out = append(out, *bySource[src])
	}
	slices.SortStableFunc(out, func(a, b rag.SourceSummary) int {
		return b.FirstSeen.Compare(a.FirstSeen)
	})
	return out, nil
}

func norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	n := min(len(a), len(b))
	dot := 0.0
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
