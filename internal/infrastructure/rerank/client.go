// Package rerank 提供交叉编码重排服务客户端
package rerank

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

var _ rag.Scorer = (*Client)(nil)

// Client 交叉编码重排服务（Cohere / Jina / TEI rerank 兼容协议）的 HTTP 客户端。
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	guard      *provider.Guard
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopN      int      `json:"top_n"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

func NewClient(cfg *config.RerankConfig, guard *provider.Guard) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		guard:    guard,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Score 返回与 passages 一一对应的相关性分数。
// 服务端按分数排序返回，这里按 index 还原顺序。
func (c *Client) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return []float64{}, nil
	}

	var resp *rerankResponse
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.doRerank(ctx, query, passages)
		return err
	})
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, fmt.Errorf("rerank response index %d out of range [0,%d)", r.Index, len(passages))
		}
		scores[r.Index] = r.RelevanceScore
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing score for passage %d", i)
		}
	}
	return scores, nil
}

func (c *Client) doRerank(ctx context.Context, query string, passages []string) (*rerankResponse, error) {
	reqBody, err := json.Marshal(&rerankRequest{
		Query:     query,
		Documents: passages,
		Model:     c.model,
		TopN:      len(passages),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	endpoint := strings.TrimRight(c.endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("rerank endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid rerank endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/rerank"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("rerank request failed: status=%d body=%s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp rerankResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return &resp, nil
}
