package rag_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-rag-api/internal/application/rag"
)

// reassemble 去掉第 2 个及之后片段的重叠前缀后拼接。
func reassemble(chunks []rag.Chunk, overlap int) string {
	var sb strings.Builder
	for i, c := range chunks {
		r := []rune(c.Content)
		if i > 0 {
			r = r[overlap:]
		}
		sb.WriteString(string(r))
	}
	return sb.String()
}

func TestChunkRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		opts rag.ChunkOptions
	}{
		{name: "shorter than chunk", text: "hello world", opts: rag.ChunkOptions{ChunkSize: 100, Overlap: 10}},
		{name: "exact multiple", text: strings.Repeat("abcde", 8), opts: rag.ChunkOptions{ChunkSize: 10, Overlap: 5}},
		{name: "no overlap", text: "The quick brown fox jumps over the lazy dog.", opts: rag.ChunkOptions{ChunkSize: 7, Overlap: 0}},
		{name: "multibyte", text: "向量检索增强生成，把文档切成有重叠的片段。日本語も大丈夫です。", opts: rag.ChunkOptions{ChunkSize: 6, Overlap: 2}},
		{name: "large overlap", text: strings.Repeat("lorem ipsum dolor sit amet ", 20), opts: rag.ChunkOptions{ChunkSize: 50, Overlap: 49}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunker := rag.NewChunker(tt.opts)

			chunks, err := chunker.Chunk(tt.text, "doc.txt", "Doc", tt.opts)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			assert.Equal(t, tt.text, reassemble(chunks, tt.opts.Overlap))

			n := len([]rune(tt.text))
			step := tt.opts.ChunkSize - tt.opts.Overlap
			assert.LessOrEqual(t, len(chunks), (n+step-1)/step)

			for i, c := range chunks {
				assert.Equal(t, i, c.Position)
				assert.Equal(t, "doc.txt", c.SourceID)
				assert.Equal(t, "Doc", c.Title)
				assert.LessOrEqual(t, len([]rune(c.Content)), tt.opts.ChunkSize)
				assert.Equal(t, i*step, c.Offset)
			}
		})
	}
}

func TestChunkScenarioSkyAndGrass(t *testing.T) {
	t.Parallel()
	opts := rag.ChunkOptions{ChunkSize: 20, Overlap: 5}
	text := "The sky is blue. Grass is green."

	chunks, err := rag.NewChunker(opts).Chunk(text, "t.txt", "", opts)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "The sky is blue. Gra", chunks[0].Content)
	assert.Equal(t, ". Grass is green.", chunks[1].Content)
	assert.Equal(t, text, reassemble(chunks, opts.Overlap))
}

func TestChunkRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts rag.ChunkOptions
	}{
		{name: "overlap equals size", opts: rag.ChunkOptions{ChunkSize: 10, Overlap: 10}},
		{name: "overlap exceeds size", opts: rag.ChunkOptions{ChunkSize: 10, Overlap: 11}},
		{name: "zero size", opts: rag.ChunkOptions{ChunkSize: 0, Overlap: 0}},
		{name: "negative overlap", opts: rag.ChunkOptions{ChunkSize: 10, Overlap: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks, err := rag.NewChunker(tt.opts).Chunk("some text to split", "a", "", tt.opts)
			require.Error(t, err)
			assert.Nil(t, chunks)
			assert.True(t, errors.Is(err, rag.ErrInvalidChunkConfig))
			assert.True(t, rag.IsValidation(err))

			var verr *rag.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestChunkRejectsOversizedChunk(t *testing.T) {
	t.Parallel()
	opts := rag.ChunkOptions{ChunkSize: rag.DefaultMaxChunkSize + 1, Overlap: 0}

	_, err := rag.NewChunker(opts).Chunk("text", "a", "", opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rag.ErrInvalidChunkConfig))

	var verr *rag.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "chunk_size", verr.Field)

	small := rag.ChunkOptions{ChunkSize: 8, Overlap: 0}
	_, err = rag.NewChunker(small).WithMaxChunkSize(4).Chunk("text", "a", "", small)
	require.Error(t, err)

	chunks, err := rag.NewChunker(small).WithMaxChunkSize(0).Chunk("text", "a", "", opts)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestChunkEmptyAndBlankInput(t *testing.T) {
	t.Parallel()
	opts := rag.ChunkOptions{ChunkSize: 10, Overlap: 2}
	chunker := rag.NewChunker(opts)

	for _, text := range []string{"", "   ", "\n\t \n"} {
		chunks, err := chunker.Chunk(text, "a", "", opts)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunkDropsWhitespaceOnlyWindows(t *testing.T) {
	t.Parallel()
	opts := rag.ChunkOptions{ChunkSize: 5, Overlap: 0}
	text := "abcde" + strings.Repeat(" ", 5) + "fghij"

	chunks, err := rag.NewChunker(opts).Chunk(text, "a", "", opts)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "abcde", chunks[0].Content)
	assert.Equal(t, "fghij", chunks[1].Content)
	assert.Equal(t, 1, chunks[1].Position)
	assert.Equal(t, 10, chunks[1].Offset)
}
