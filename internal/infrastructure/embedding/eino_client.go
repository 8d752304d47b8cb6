package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"

	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/internal/config"
	"docqa-rag-api/internal/infrastructure/provider"
)

var _ rag.EmbeddingProvider = (*EinoProvider)(nil)

// NewEinoEmbedder 创建基于 Eino 的 Embedder
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base_url is required")
	}

	// 使用 Eino 的 OpenAI 适配器
	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}

	return embedder, nil
}

// EinoProvider 将 Eino Embedder 适配为 rag.EmbeddingProvider。
// OpenAI 兼容接口经 Eino 封装后不返回 token 用量，由上层估算。
type EinoProvider struct {
	embedder embedding.Embedder
	guard    *provider.Guard
}

func NewEinoProvider(embedder embedding.Embedder, guard *provider.Guard) *EinoProvider {
	return &EinoProvider{embedder: embedder, guard: guard}
}

func (p *EinoProvider) EmbedBatch(ctx context.Context, texts []string) (*rag.EmbeddingBatch, error) {
	var v64 [][]float64
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{Name: "embedder", Component: components.ComponentOfEmbedding})
	err := p.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		v64, err = p.embedder.EmbedStrings(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rag.EmbeddingBatch{Vectors: toFloat32(v64)}, nil
}

func toFloat32(v64 [][]float64) [][]float32 {
	out := make([][]float32, 0, len(v64))
	for _, vec := range v64 {
		f32 := make([]float32, 0, len(vec))
		for _, x := range vec {
			f32 = append(f32, float32(x))
		}
		out = append(out, f32)
	}
	return out
}
