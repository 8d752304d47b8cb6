package rag

import (
	"math"
	"unicode/utf8"
)

const defaultCharsPerToken = 4.0

// Pricing 计费参数，价格单位为美元 / 百万 token。
type Pricing struct {
	CharsPerToken        float64
	EmbeddingPerMillion  float64
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// UsageAccountant 估算 token 数与费用。结果只依赖输入与价格表。
type UsageAccountant struct {
	pricing Pricing
}

func NewUsageAccountant(p Pricing) *UsageAccountant {
	if p.CharsPerToken <= 0 {
		p.CharsPerToken = defaultCharsPerToken
	}
	return &UsageAccountant{pricing: p}
}

// EstimateTokens 按字符数估算 token 数（向上取整）。
func (a *UsageAccountant) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / a.pricing.CharsPerToken))
}

// EstimateTokensAll 估算一组文本的 token 总数。
func (a *UsageAccountant) EstimateTokensAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += a.EstimateTokens(t)
	}
	return total
}

func (a *UsageAccountant) EstimateEmbeddingCost(tokens int) float64 {
	return perMillion(tokens, a.pricing.EmbeddingPerMillion)
}

func (a *UsageAccountant) EstimateCompletionCost(promptTokens, completionTokens int) float64 {
	return perMillion(promptTokens, a.pricing.PromptPerMillion) +
		perMillion(completionTokens, a.pricing.CompletionPerMillion)
}

func perMillion(tokens int, price float64) float64 {
	if tokens <= 0 || price <= 0 {
		return 0
	}
	return float64(tokens) * price / 1_000_000
}
