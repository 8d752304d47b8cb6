package rag

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const (
	defaultEmbeddingBatch       = 32
	defaultEmbeddingConcurrency = 1
)

// EmbedResult 一次 Embed 调用的输出，Vectors 与输入一一对应。
type EmbedResult struct {
	Vectors [][]float32
	Tokens  int
}

// EmbedderOptions Embedder 参数。
type EmbedderOptions struct {
	BatchSize      int
	MaxConcurrency int
	// Dimension 期望的向量维度，0 表示不校验
	Dimension int
}

// Embedder 按批调用 EmbeddingProvider，批次可并发执行，结果按输入顺序返回。
// 任意一批失败则整体失败，不返回部分结果。
type Embedder struct {
	provider   EmbeddingProvider
	accountant *UsageAccountant

	batchSize   int
	concurrency int
	dimension   int
}

func NewEmbedder(provider EmbeddingProvider, accountant *UsageAccountant, opts EmbedderOptions) *Embedder {
	bs := opts.BatchSize
	if bs <= 0 {
		bs = defaultEmbeddingBatch
	}
	cc := opts.MaxConcurrency
	if cc <= 0 {
		cc = defaultEmbeddingConcurrency
	}
	return &Embedder{
		provider:    provider,
		accountant:  accountant,
		batchSize:   bs,
		concurrency: cc,
		dimension:   opts.Dimension,
	}
}

// Embed 为每段文本生成向量。空输入不会调用外部服务。
func (e *Embedder) Embed(ctx context.Context, texts []string) (*EmbedResult, error) {
	if len(texts) == 0 {
		return &EmbedResult{Vectors: [][]float32{}}, nil
	}

	numBatches := (len(texts) + e.batchSize - 1) / e.batchSize
	vectors := make([][]float32, len(texts))
	tokens := make([]int, numBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for b := range numBatches {
		start := b * e.batchSize
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			batch := texts[start:end]
			res, err := e.provider.EmbedBatch(gctx, batch)
			if err != nil {
				return &EmbeddingError{Batch: b, Err: err}
			}
			if res == nil || len(res.Vectors) != len(batch) {
				got := 0
				if res != nil {
					got = len(res.Vectors)
				}
				return &EmbeddingError{Batch: b, Err: fmt.Errorf("expected %d vectors, got %d", len(batch), got)}
			}
			for i, v := range res.Vectors {
				if len(v) == 0 {
					return &EmbeddingError{Batch: b, Err: errors.New("empty vector")}
				}
				if e.dimension > 0 && len(v) != e.dimension {
					return &EmbeddingError{Batch: b, Err: fmt.Errorf("dimension mismatch: expected %d, got %d", e.dimension, len(v))}
				}
				vectors[start+i] = v
			}
			if res.Tokens > 0 {
				tokens[b] = res.Tokens
			} else {
				tokens[b] = e.accountant.EstimateTokensAll(batch)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, t := range tokens {
		total += t
	}
	return &EmbedResult{Vectors: vectors, Tokens: total}, nil
}

// EmbedOne 为单条文本生成向量。
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, int, error) {
	res, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return res.Vectors[0], res.Tokens, nil
}
