package rag

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"docqa-rag-api/pkg/logger"
)

// NoInformationAnswer 没有任何相关片段时返回的固定答案。
const NoInformationAnswer = "I could not find any relevant information in the uploaded documents to answer this question."

const defaultCitationLimit = 5

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// Synthesis 答案合成输出。
type Synthesis struct {
	Answer    string
	Citations []Citation
	Usage     UsageStats
	// InvalidMarkers 答案中引用了不存在编号的标记
	InvalidMarkers []int
}

// SynthesizerOptions 合成参数。
type SynthesizerOptions struct {
	CitationLimit     int
	MaxRunesPerSource int
}

// AnswerSynthesizer 基于重排后的片段调用 LLM 生成带引用的答案。
type AnswerSynthesizer struct {
	chatModel  model.BaseChatModel
	accountant *UsageAccountant
	opts       SynthesizerOptions
}

func NewAnswerSynthesizer(chatModel model.BaseChatModel, accountant *UsageAccountant, opts SynthesizerOptions) *AnswerSynthesizer {
	if opts.CitationLimit <= 0 {
		opts.CitationLimit = defaultCitationLimit
	}
	return &AnswerSynthesizer{chatModel: chatModel, accountant: accountant, opts: opts}
}

// Synthesize 取前 citationLimit 个片段作为引用（编号 1..N）并生成答案。
// citationLimit <= 0 时使用默认值；ranked 为空时不调用模型。
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, query string, ranked []RerankedResult, citationLimit int) (*Synthesis, error) {
	if len(ranked) == 0 {
		return &Synthesis{Answer: NoInformationAnswer, Citations: []Citation{}}, nil
	}
	if citationLimit <= 0 {
		citationLimit = s.opts.CitationLimit
	}

	citations := buildCitations(ranked, citationLimit)
	messages := []*schema.Message{
		schema.SystemMessage(synthesisSystemPrompt),
		schema.UserMessage(buildUserPrompt(query, citations, s.opts.MaxRunesPerSource)),
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{Name: "answer_synthesizer", Component: components.ComponentOfChatModel})
	outMsg, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	if outMsg == nil {
		return nil, ErrSynthesisEmpty
	}
	answer := strings.TrimSpace(outMsg.Content)
	if answer == "" {
		return nil, ErrSynthesisEmpty
	}

	promptTokens, completionTokens := 0, 0
	if outMsg.ResponseMeta != nil && outMsg.ResponseMeta.Usage != nil {
		promptTokens = outMsg.ResponseMeta.Usage.PromptTokens
		completionTokens = outMsg.ResponseMeta.Usage.CompletionTokens
	}
	if promptTokens == 0 && completionTokens == 0 {
		for _, m := range messages {
			promptTokens += s.accountant.EstimateTokens(m.Content)
		}
		completionTokens = s.accountant.EstimateTokens(answer)
	}

	invalid := invalidMarkers(answer, len(citations))
	if len(invalid) > 0 {
		logger.Warn(ctx, "answer cites unknown sources", "markers", invalid, "citations", len(citations))
	}

	return &Synthesis{
		Answer:    answer,
		Citations: citations,
		Usage: UsageStats{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
			EstimatedCost:    s.accountant.EstimateCompletionCost(promptTokens, completionTokens),
		},
		InvalidMarkers: invalid,
	}, nil
}

func buildCitations(ranked []RerankedResult, limit int) []Citation {
	n := min(limit, len(ranked))
	out := make([]Citation, 0, n)
	for i := range n {
		r := ranked[i]
		out = append(out, Citation{
			Index:       i + 1,
			Content:     r.Content,
			Source:      r.Metadata.Source,
			Title:       r.Metadata.Title,
			Position:    r.Metadata.Position,
			RerankScore: r.RerankScore,
			Similarity:  r.Similarity,
		})
	}
	return out
}

// invalidMarkers 返回答案中超出 1..n 范围的引用编号（去重，按出现顺序）。
func invalidMarkers(answer string, n int) []int {
	var out []int
	seen := make(map[int]struct{})
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || (idx >= 1 && idx <= n) {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}
