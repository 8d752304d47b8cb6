package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-rag-api/internal/application/rag"
)

func doc(content, source string, vec []float32, at time.Time) rag.VectorDocument {
	return rag.VectorDocument{
		Content:   content,
		Embedding: vec,
		Metadata:  rag.ChunkMetadata{Source: source, CreatedAt: at},
	}
}

func TestVectorIndexSearchOrdersBySimilarity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewVectorIndex(2)
	now := time.Now()

	ids, err := idx.Upsert(ctx, []rag.VectorDocument{
		doc("east", "a", []float32{1, 0}, now),
		doc("north", "a", []float32{0, 1}, now),
		doc("north-east", "b", []float32{1, 1}, now),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	results, err := idx.SimilaritySearch(ctx, []float32{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "east", results[0].Content)
	assert.Equal(t, "north-east", results[1].Content)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestVectorIndexEmptySearch(t *testing.T) {
	t.Parallel()
	results, err := NewVectorIndex(2).SimilaritySearch(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndexRejectsDimensionMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewVectorIndex(3)

	ids, err := idx.Upsert(ctx, []rag.VectorDocument{doc("x", "a", []float32{1, 0}, time.Now())})
	require.Error(t, err)
	assert.Nil(t, ids)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorIndexSourcesDeleteAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewVectorIndex(0)
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	_, err := idx.Upsert(ctx, []rag.VectorDocument{
		doc("a1", "a.txt", []float32{1}, older),
		doc("a2", "a.txt", []float32{1}, older),
		doc("b1", "b.txt", []float32{1}, newer),
	})
	require.NoError(t, err)

	sources, err := idx.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "b.txt", sources[0].Source)
	assert.Equal(t, 1, sources[0].ChunkCount)
	assert.Equal(t, "a.txt", sources[1].Source)
	assert.Equal(t, 2, sources[1].ChunkCount)

	require.NoError(t, idx.DeleteBySource(ctx, "a.txt", nil))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, idx.Clear(ctx))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorIndexDeleteBySourceKeepsListedIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewVectorIndex(0)
	now := time.Now()

	old, err := idx.Upsert(ctx, []rag.VectorDocument{doc("old", "a.txt", []float32{1}, now)})
	require.NoError(t, err)
	fresh, err := idx.Upsert(ctx, []rag.VectorDocument{
		doc("new1", "a.txt", []float32{1}, now),
		doc("new2", "a.txt", []float32{1}, now),
	})
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, []rag.VectorDocument{doc("other", "b.txt", []float32{1}, now)})
	require.NoError(t, err)

	require.NoError(t, idx.DeleteBySource(ctx, "a.txt", fresh))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, idx.Delete(ctx, append(fresh, old...)))
	results, err := idx.SimilaritySearch(ctx, []float32{1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "other", results[0].Content)
}
