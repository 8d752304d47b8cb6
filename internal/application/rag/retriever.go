package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Retrieval 检索输出，Results 保持向量索引返回的顺序。
type Retrieval struct {
	Results     []SearchResult
	QueryTokens int
}

// Retriever 将查询向量化后在索引中做相似度检索。
type Retriever struct {
	embedder *Embedder
	index    VectorIndex
	cache    QueryEmbeddingCache
	// cacheNamespace 区分不同 Embedding 模型的缓存键
	cacheNamespace string
}

func NewRetriever(embedder *Embedder, index VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// WithCache 为查询向量启用缓存，namespace 通常为 Embedding 模型名。
func (r *Retriever) WithCache(cache QueryEmbeddingCache, namespace string) *Retriever {
	r.cache = cache
	r.cacheNamespace = namespace
	return r
}

// Retrieve 返回与 query 最相近的至多 topK 个片段。空库返回空结果。
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) (*Retrieval, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, newValidationError("query", "must not be empty")
	}
	if topK <= 0 {
		return nil, newValidationError("top_k", "must be positive")
	}

	vec, tokens, err := r.embedQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	results, err := r.index.SimilaritySearch(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVectorStore, err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return &Retrieval{Results: results, QueryTokens: tokens}, nil
}

func (r *Retriever) embedQuery(ctx context.Context, q string) ([]float32, int, error) {
	if r.cache == nil {
		return r.embedder.EmbedOne(ctx, q)
	}

	tokens := 0
	vec, err := r.cache.GetOrLoad(ctx, r.cacheKey(q), func(ctx context.Context) ([]float32, error) {
		v, t, err := r.embedder.EmbedOne(ctx, q)
		tokens = t
		return v, err
	})
	if err != nil {
		return nil, 0, err
	}
	return vec, tokens, nil
}

func (r *Retriever) cacheKey(q string) string {
	sum := sha256.Sum256([]byte(q))
	return "rag:qemb:" + r.cacheNamespace + ":" + hex.EncodeToString(sum[:])
}
