package rag_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-rag-api/internal/application/rag"
)

func ranked(n int) []rag.RerankedResult {
	out := make([]rag.RerankedResult, n)
	for i := range n {
		out[i] = rag.RerankedResult{
			SearchResult: rag.SearchResult{
				ID:         int64(i + 1),
				Content:    fmt.Sprintf("fact number %d", i+1),
				Similarity: 0.9,
				Metadata:   rag.ChunkMetadata{Source: fmt.Sprintf("doc-%d.txt", i+1), Title: "Doc", Position: i},
			},
			RerankScore: float64(n - i),
		}
	}
	return out
}

func TestSynthesizeEmptyRankedSkipsModel(t *testing.T) {
	t.Parallel()
	chat := &fakeChatModel{reply: answerWith("should not be used", 1, 1)}
	synth := rag.NewAnswerSynthesizer(chat, testAccountant(), rag.SynthesizerOptions{})

	out, err := synth.Synthesize(context.Background(), "What color is the sky?", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, rag.NoInformationAnswer, out.Answer)
	assert.NotNil(t, out.Citations)
	assert.Empty(t, out.Citations)
	assert.Zero(t, out.Usage.TotalTokens)
	assert.Zero(t, chat.calls)
}

func TestSynthesizeNumbersCitationsUpToLimit(t *testing.T) {
	t.Parallel()
	chat := &fakeChatModel{reply: answerWith("The answer is in [1] and [2].", 120, 30)}
	synth := rag.NewAnswerSynthesizer(chat, testAccountant(), rag.SynthesizerOptions{})

	out, err := synth.Synthesize(context.Background(), "question?", ranked(6), 3)
	require.NoError(t, err)
	require.Len(t, out.Citations, 3)
	for i, c := range out.Citations {
		assert.Equal(t, i+1, c.Index)
		assert.Equal(t, fmt.Sprintf("doc-%d.txt", i+1), c.Source)
		assert.Equal(t, fmt.Sprintf("fact number %d", i+1), c.Content)
	}
	assert.Equal(t, "The answer is in [1] and [2].", out.Answer)
	assert.Empty(t, out.InvalidMarkers)

	assert.Equal(t, 120, out.Usage.PromptTokens)
	assert.Equal(t, 30, out.Usage.CompletionTokens)
	assert.Equal(t, 150, out.Usage.TotalTokens)
	assert.InDelta(t, 120*0.15/1e6+30*0.60/1e6, out.Usage.EstimatedCost, 1e-12)

	assert.Contains(t, chat.lastUser, "[1] (source: doc-1.txt, title: Doc, chunk: 0) fact number 1")
	assert.Contains(t, chat.lastUser, "[3] (source: doc-3.txt")
	assert.NotContains(t, chat.lastUser, "[4]")
	assert.Contains(t, chat.lastUser, "question?")
}

func TestSynthesizeFewerResultsThanLimit(t *testing.T) {
	t.Parallel()
	chat := &fakeChatModel{reply: answerWith("Only one source [1].", 10, 5)}

	out, err := rag.NewAnswerSynthesizer(chat, testAccountant(), rag.SynthesizerOptions{}).
		Synthesize(context.Background(), "q", ranked(1), 5)
	require.NoError(t, err)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, 1, out.Citations[0].Index)
}

func TestSynthesizeReportsUnknownMarkers(t *testing.T) {
	t.Parallel()
	chat := &fakeChatModel{reply: answerWith("See [1], [4] and [0], again [4].", 10, 5)}

	out, err := rag.NewAnswerSynthesizer(chat, testAccountant(), rag.SynthesizerOptions{}).
		Synthesize(context.Background(), "q", ranked(2), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 0}, out.InvalidMarkers)
}

func TestSynthesizeEstimatesUsageWhenMissing(t *testing.T) {
	t.Parallel()
	chat := &fakeChatModel{reply: answerWith("abcdefgh", 0, 0)}

	out, err := rag.NewAnswerSynthesizer(chat, testAccountant(), rag.SynthesizerOptions{}).
		Synthesize(context.Background(), "q", ranked(1), 1)
	require.NoError(t, err)
	assert.Positive(t, out.Usage.PromptTokens)
	assert.Equal(t, 2, out.Usage.CompletionTokens)
}

func TestSynthesizeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply func([]*schema.Message) (*schema.Message, error)
		want  error
	}{
		{name: "empty answer", reply: answerWith("  \n ", 5, 0), want: rag.ErrSynthesisEmpty},
		{name: "model error", reply: func([]*schema.Message) (*schema.Message, error) {
			return nil, errors.New("rate limited")
		}, want: rag.ErrSynthesisFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chat := &fakeChatModel{reply: tt.reply}
			_, err := rag.NewAnswerSynthesizer(chat, testAccountant(), rag.SynthesizerOptions{}).
				Synthesize(context.Background(), "q", ranked(2), 2)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, rag.ErrSynthesisFailed)
		})
	}
}

func TestUsageAccountantIsMonotonicAndDeterministic(t *testing.T) {
	t.Parallel()
	acc := testAccountant()

	assert.Equal(t, 0, acc.EstimateTokens(""))
	assert.Equal(t, 1, acc.EstimateTokens("abc"))
	assert.Equal(t, 2, acc.EstimateTokens("abcde"))
	assert.Equal(t, 1, acc.EstimateTokens("日本語"))

	prev := -1.0
	for tokens := 0; tokens <= 10_000; tokens += 500 {
		cost := acc.EstimateEmbeddingCost(tokens)
		assert.GreaterOrEqual(t, cost, prev)
		assert.Equal(t, cost, acc.EstimateEmbeddingCost(tokens))
		prev = cost
	}
	assert.Greater(t, acc.EstimateCompletionCost(100, 10), acc.EstimateCompletionCost(100, 0))
	assert.Greater(t, acc.EstimateCompletionCost(200, 0), acc.EstimateCompletionCost(100, 0))
	assert.Zero(t, acc.EstimateCompletionCost(-5, -5))
}
