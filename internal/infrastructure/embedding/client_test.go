package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-rag-api/internal/config"
)

func TestClientEmbedBatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-small", req.Model)

		out := embedResponse{TokensUsed: 7}
		for i := range req.Texts {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := NewClient(&config.EmbeddingConfig{Endpoint: srv.URL, Model: "bge-small"}, nil)
	res, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, res.Vectors, 3)
	assert.Equal(t, []float32{2, 1}, res.Vectors[2])
	assert.Equal(t, 7, res.Tokens)
}

func TestClientEmbedBatchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			},
			want: "status=503",
		},
		{
			name: "short response",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
			},
			want: "1 vectors for 2 texts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(&config.EmbeddingConfig{Endpoint: srv.URL}, nil)
			_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestToFloat32(t *testing.T) {
	t.Parallel()
	assert.Equal(t, [][]float32{{0.5, -1}}, toFloat32([][]float64{{0.5, -1}}))
}
