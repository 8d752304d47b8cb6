package rag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/internal/infrastructure/persistence/memory"
)

type mapCache struct {
	entries map[string][]float32
	loads   int
}

func (c *mapCache) GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	if v, ok := c.entries[key]; ok {
		return v, nil
	}
	c.loads++
	v, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	c.entries[key] = v
	return v, nil
}

func TestRetrieveEmptyStore(t *testing.T) {
	t.Parallel()
	provider := &hashEmbedder{}
	retriever := rag.NewRetriever(rag.NewEmbedder(provider, testAccountant(), rag.EmbedderOptions{}), memory.NewVectorIndex(fakeDim))

	out, err := retriever.Retrieve(context.Background(), "What color is the sky?", 5)
	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
	assert.Equal(t, 1, provider.callCount())
	assert.Positive(t, out.QueryTokens)
}

func TestRetrieveReturnsStoreOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	index := memory.NewVectorIndex(fakeDim)
	_, err := index.Upsert(ctx, []rag.VectorDocument{
		{Content: "grass is green", Embedding: hashVector("grass is green"), Metadata: rag.ChunkMetadata{Source: "g.txt", CreatedAt: time.Now()}},
		{Content: "the sky is blue", Embedding: hashVector("the sky is blue"), Metadata: rag.ChunkMetadata{Source: "s.txt", CreatedAt: time.Now()}},
	})
	require.NoError(t, err)
	retriever := rag.NewRetriever(rag.NewEmbedder(&hashEmbedder{}, testAccountant(), rag.EmbedderOptions{}), index)

	out, err := retriever.Retrieve(ctx, "the sky is blue", 1)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "s.txt", out.Results[0].Metadata.Source)
	assert.InDelta(t, 1.0, out.Results[0].Similarity, 1e-6)
}

func TestRetrieveValidatesInput(t *testing.T) {
	t.Parallel()
	provider := &hashEmbedder{}
	retriever := rag.NewRetriever(rag.NewEmbedder(provider, testAccountant(), rag.EmbedderOptions{}), memory.NewVectorIndex(fakeDim))

	_, err := retriever.Retrieve(context.Background(), "   ", 5)
	assert.True(t, rag.IsValidation(err))

	_, err = retriever.Retrieve(context.Background(), "question", 0)
	assert.True(t, rag.IsValidation(err))

	assert.Zero(t, provider.callCount())
}

func TestRetrieveWrapsStoreFailure(t *testing.T) {
	t.Parallel()
	index := &recordingIndex{VectorIndex: memory.NewVectorIndex(fakeDim), searchErr: errors.New("milvus unavailable")}
	retriever := rag.NewRetriever(rag.NewEmbedder(&hashEmbedder{}, testAccountant(), rag.EmbedderOptions{}), index)

	_, err := retriever.Retrieve(context.Background(), "question", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrVectorStore)
}

func TestRetrieveUsesQueryCache(t *testing.T) {
	t.Parallel()
	provider := &hashEmbedder{}
	cache := &mapCache{entries: map[string][]float32{}}
	retriever := rag.NewRetriever(rag.NewEmbedder(provider, testAccountant(), rag.EmbedderOptions{}), memory.NewVectorIndex(fakeDim)).
		WithCache(cache, "test-model")

	for range 3 {
		_, err := retriever.Retrieve(context.Background(), "same question", 3)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, 1, cache.loads)
}
