package rag_test

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"docqa-rag-api/internal/application/rag"
)

const fakeDim = 32

// hashEmbedder 把词袋哈希到固定维度，相同文本得到相同向量。
type hashEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	tokens  int
	failOn  func(batch []string) error
}

func (f *hashEmbedder) EmbedBatch(_ context.Context, texts []string) (*rag.EmbeddingBatch, error) {
	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.failOn != nil {
		if err := f.failOn(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return &rag.EmbeddingBatch{Vectors: out, Tokens: f.tokens}, nil
}

func (f *hashEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func hashVector(text string) []float32 {
	v := make([]float32, fakeDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%fakeDim]++
	}
	if len(words) == 0 {
		v[0] = 1
	}
	return v
}

// fixedScorer 按给定规则打分。
type fixedScorer struct {
	calls int
	score func(passage string) float64
	err   error
}

func (f *fixedScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(passages))
	for i, p := range passages {
		out[i] = f.score(p)
	}
	return out, nil
}

// fakeChatModel 实现 model.BaseChatModel。
type fakeChatModel struct {
	mu       sync.Mutex
	calls    int
	lastUser string
	reply    func(input []*schema.Message) (*schema.Message, error)
}

var _ model.BaseChatModel = (*fakeChatModel)(nil)

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls++
	for _, m := range input {
		if m.Role == schema.User {
			f.lastUser = m.Content
		}
	}
	f.mu.Unlock()
	return f.reply(input)
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func answerWith(content string, promptTokens, completionTokens int) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		msg := schema.AssistantMessage(content, nil)
		if promptTokens > 0 || completionTokens > 0 {
			msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			}}
		}
		return msg, nil
	}
}

// recordingIndex 包装任意 VectorIndex 并可注入错误。
type recordingIndex struct {
	rag.VectorIndex
	upsertErr error
	searchErr error
	deleteErr error
	upserts   int
	deletes   []string
}

func (r *recordingIndex) Upsert(ctx context.Context, docs []rag.VectorDocument) ([]int64, error) {
	r.upserts++
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	return r.VectorIndex.Upsert(ctx, docs)
}

func (r *recordingIndex) SimilaritySearch(ctx context.Context, q []float32, topK int) ([]rag.SearchResult, error) {
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	return r.VectorIndex.SimilaritySearch(ctx, q, topK)
}

func (r *recordingIndex) DeleteBySource(ctx context.Context, source string, keep []int64) error {
	r.deletes = append(r.deletes, source)
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.VectorIndex.DeleteBySource(ctx, source, keep)
}

func testAccountant() *rag.UsageAccountant {
	return rag.NewUsageAccountant(rag.Pricing{
		CharsPerToken:        4,
		EmbeddingPerMillion:  0.02,
		PromptPerMillion:     0.15,
		CompletionPerMillion: 0.60,
	})
}
