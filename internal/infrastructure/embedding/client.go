// Package embedding 提供 Embedding 服务客户端
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/internal/config"
	"docqa-rag-api/internal/infrastructure/provider"
)

var _ rag.EmbeddingProvider = (*Client)(nil)

// Client 自建 Embedding 服务（TEI / bge 等）的 HTTP 客户端。
// 分批由 rag.Embedder 负责，这里一次请求对应一个批次。
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	guard      *provider.Guard
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	TokensUsed int         `json:"tokens_used"`
}

func NewClient(cfg *config.EmbeddingConfig, guard *provider.Guard) *Client {
	model := cfg.Model
	if model == "" {
		model = "BAAI/bge-m3"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		model:    model,
		guard:    guard,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) (*rag.EmbeddingBatch, error) {
	if len(texts) == 0 {
		return &rag.EmbeddingBatch{Vectors: [][]float32{}}, nil
	}

	var resp *embedResponse
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.doBatchEmbed(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return &rag.EmbeddingBatch{Vectors: resp.Embeddings, Tokens: resp.TokensUsed}, nil
}

func (c *Client) doBatchEmbed(ctx context.Context, texts []string) (*embedResponse, error) {
	reqBody, err := json.Marshal(&embedRequest{
		Texts: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	endpoint := strings.TrimRight(c.endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid embedding endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/embed"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("embedding request failed: status=%d body=%s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp embedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	return &resp, nil
}
