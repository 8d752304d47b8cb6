package rag

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// RerankOutcome 重排输出。
type RerankOutcome struct {
	Results []RerankedResult
	// Dropped 因低于阈值被过滤的候选数
	Dropped int
}

// RerankOptions 重排参数。
type RerankOptions struct {
	ThresholdEnabled bool
	Threshold        float64
}

// Reranker 使用 Scorer 对候选重新打分并按分数降序排列。
// 排序是稳定的，同分时保持检索顺序。
type Reranker struct {
	scorer Scorer
	opts   RerankOptions
}

func NewReranker(scorer Scorer, opts RerankOptions) *Reranker {
	return &Reranker{scorer: scorer, opts: opts}
}

func (r *Reranker) Rerank(ctx context.Context, query string, candidates []SearchResult) (*RerankOutcome, error) {
	if len(candidates) == 0 {
		return &RerankOutcome{Results: []RerankedResult{}}, nil
	}

	scores, err := r.score(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRerankFailed, err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: expected %d scores, got %d", ErrRerankFailed, len(candidates), len(scores))
	}
	// NaN 无法参与排序比较
	for i, sc := range scores {
		if math.IsNaN(sc) || math.IsInf(sc, 0) {
			return nil, fmt.Errorf("%w: non-finite score %v for candidate %d", ErrRerankFailed, sc, i)
		}
	}

	ranked := make([]RerankedResult, 0, len(candidates))
	dropped := 0
	for i, c := range candidates {
		if r.opts.ThresholdEnabled && scores[i] < r.opts.Threshold {
			dropped++
			continue
		}
		ranked = append(ranked, RerankedResult{SearchResult: c, RerankScore: scores[i]})
	}

	slices.SortStableFunc(ranked, func(a, b RerankedResult) int {
		switch {
		case a.RerankScore > b.RerankScore:
			return -1
		case a.RerankScore < b.RerankScore:
			return 1
		default:
			return 0
		}
	})

	return &RerankOutcome{Results: ranked, Dropped: dropped}, nil
}

// NewSimilarityReranker 返回直接以检索相似度作为重排分数的 Reranker，未配置重排服务时使用。
func NewSimilarityReranker(opts RerankOptions) *Reranker {
	return &Reranker{opts: opts}
}

func (r *Reranker) score(ctx context.Context, query string, candidates []SearchResult) ([]float64, error) {
	if r.scorer == nil {
		scores := make([]float64, len(candidates))
		for i, c := range candidates {
			scores[i] = c.Similarity
		}
		return scores, nil
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Content
	}
	return r.scorer.Score(ctx, query, passages)
}
