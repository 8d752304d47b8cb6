package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("DOCQA_TEST_HOST", "milvus.internal")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "set variable", in: "host: ${DOCQA_TEST_HOST}", want: "host: milvus.internal"},
		{name: "set variable ignores default", in: "host: ${DOCQA_TEST_HOST:localhost}", want: "host: milvus.internal"},
		{name: "unset with default", in: "port: ${DOCQA_TEST_UNSET_PORT:19530}", want: "port: 19530"},
		{name: "unset with empty default", in: "key: ${DOCQA_TEST_UNSET_KEY:}", want: "key: "},
		{name: "unset without default kept", in: "key: ${DOCQA_TEST_UNSET_KEY}", want: "key: ${DOCQA_TEST_UNSET_KEY}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnv(tt.in))
		})
	}
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", name), []byte(content), 0o644))
}

func TestLoadAppliesDefaultsAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
vector:
  backend: memory
pipeline:
  chunk_size: 500
  chunk_overlap: 50
`)
	writeConfig(t, dir, "config.test.yaml", `
pipeline:
  top_k: 7
`)
	t.Chdir(dir)
	t.Setenv("APP_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Vector.Backend)
	assert.Equal(t, 500, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 50, cfg.Pipeline.ChunkOverlap)
	assert.Equal(t, 7, cfg.Pipeline.TopK)
	assert.Equal(t, 5, cfg.Pipeline.CitationLimit)
	assert.Equal(t, "append", cfg.Pipeline.IngestMode)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.Timeouts.Synthesis)
	assert.InDelta(t, 0.02, cfg.Pricing.EmbeddingPerMillion, 1e-12)
}

func TestLoadRejectsOverlapNotSmallerThanChunkSize(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
pipeline:
  chunk_size: 100
  chunk_overlap: 100
`)
	t.Chdir(dir)
	t.Setenv("APP_ENV", "test")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestValidateIngestMode(t *testing.T) {
	cfg := &Config{
		Vector:    VectorConfig{Backend: "memory"},
		Embedding: EmbeddingConfig{Dimension: 8},
		Pipeline:  PipelineConfig{ChunkSize: 10, ChunkOverlap: 2, MaxChunkSize: 100, TopK: 3, CitationLimit: 2, IngestMode: "upsert"},
	}
	require.Error(t, cfg.Validate())

	cfg.Pipeline.IngestMode = "replace"
	require.NoError(t, cfg.Validate())
}

func TestValidateMaxChunkSize(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		maxSize   int
		wantErr   string
	}{
		{name: "within limit", chunkSize: 1000, maxSize: 16383},
		{name: "chunk size above max", chunkSize: 2000, maxSize: 1000, wantErr: "pipeline.chunk_size"},
		{name: "max beyond content column", chunkSize: 1000, maxSize: 20000, wantErr: "pipeline.max_chunk_size"},
		{name: "max unset", chunkSize: 1000, maxSize: 0, wantErr: "pipeline.max_chunk_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline := PipelineConfig{
				ChunkSize: tt.chunkSize, ChunkOverlap: 10, MaxChunkSize: tt.maxSize,
				TopK: 3, CitationLimit: 2, IngestMode: "append",
			}
			cfg := &Config{
				Vector:    VectorConfig{Backend: "memory"},
				Embedding: EmbeddingConfig{Dimension: 8},
				Pipeline:  pipeline,
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
