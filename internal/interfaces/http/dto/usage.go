package dto

import (
	"time"

	"docqa-rag-api/internal/domain/entity"
)

// UsageSummaryResponse 用量汇总
type UsageSummaryResponse struct {
	Since  time.Time              `json:"since"`
	Until  time.Time              `json:"until"`
	Items  []*entity.UsageSummary `json:"items"`
	Totals UsageTotals            `json:"totals"`
}

// UsageTotals 全部流水线合计
type UsageTotals struct {
	Runs             int64   `json:"runs"`
	EmbeddingTokens  int64   `json:"embedding_tokens"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

func ToUsageSummaryResponse(since, until time.Time, items []*entity.UsageSummary) *UsageSummaryResponse {
	if items == nil {
		items = []*entity.UsageSummary{}
	}
	resp := &UsageSummaryResponse{Since: since, Until: until, Items: items}
	for _, it := range items {
		resp.Totals.Runs += it.Runs
		resp.Totals.EmbeddingTokens += it.EmbeddingTokens
		resp.Totals.PromptTokens += it.PromptTokens
		resp.Totals.CompletionTokens += it.CompletionTokens
		resp.Totals.EstimatedCost += it.EstimatedCost
	}
	return resp
}
