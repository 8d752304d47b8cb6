package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docqa-rag-api/internal/application/rag"
)

func TestNewUsageEvent(t *testing.T) {
	t.Parallel()
	ev := newUsageEvent(&rag.UsageRecord{
		Pipeline:         "query",
		Status:           "error",
		FailedStage:      rag.StageReranking,
		EmbeddingTokens:  3,
		PromptTokens:     40,
		CompletionTokens: 0,
		EstimatedCost:    0.0001,
		DurationMs:       120,
	})

	assert.Empty(t, ev.ID)
	assert.Equal(t, "query", ev.Pipeline)
	assert.Equal(t, "error", ev.Status)
	assert.Equal(t, string(rag.StageReranking), ev.FailedStage)
	assert.Equal(t, 40, ev.PromptTokens)
	assert.InDelta(t, 0.0001, ev.EstimatedCost, 1e-12)
	assert.Equal(t, int64(120), ev.DurationMs)
}

func TestDSN(t *testing.T) {
	t.Parallel()
	assert.Equal(t,
		"host=db port=5432 user=u password=p dbname=docqa sslmode=disable",
		dsn("db", 5432, "u", "p", "docqa", ""),
	)
}
