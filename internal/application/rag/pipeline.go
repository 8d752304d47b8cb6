package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"docqa-rag-api/pkg/logger"
	"docqa-rag-api/pkg/metrics"
	"docqa-rag-api/pkg/tracer"
)

const (
	pipelineIngest = "ingest"
	pipelineQuery  = "query"

	defaultTopK    = 10
	defaultMaxTopK = 50

	rollbackTimeout = 10 * time.Second
)

// IngestMode 同一来源重复入库时的处理方式。
type IngestMode string

const (
	// IngestAppend 直接追加，重复入库会产生重复片段
	IngestAppend IngestMode = "append"
	// IngestReplace 新片段写入成功后再删除该来源的旧片段
	IngestReplace IngestMode = "replace"
)

// StageTimeouts 各外部阶段的超时，0 表示不额外限制。
type StageTimeouts struct {
	Embedding time.Duration
	Upsert    time.Duration
	Retrieval time.Duration
	Rerank    time.Duration
	Synthesis time.Duration
}

// PipelineOptions 流水线参数。
type PipelineOptions struct {
	TopK          int
	MaxTopK       int
	CitationLimit int
	MaxTextRunes  int
	IngestMode    IngestMode
	Timeouts      StageTimeouts
}

// PipelineDeps 流水线依赖。Recorder 可为空。
type PipelineDeps struct {
	Chunker     *Chunker
	Embedder    *Embedder
	Index       VectorIndex
	Retriever   *Retriever
	Reranker    *Reranker
	Synthesizer *AnswerSynthesizer
	Accountant  *UsageAccountant
	Recorder    UsageRecorder
}

// Pipeline 编排入库（切分 -> 向量化 -> 写入）与问答（检索 -> 重排 -> 合成）。
type Pipeline struct {
	chunker     *Chunker
	embedder    *Embedder
	index       VectorIndex
	retriever   *Retriever
	reranker    *Reranker
	synthesizer *AnswerSynthesizer
	accountant  *UsageAccountant
	recorder    UsageRecorder

	opts PipelineOptions
}

func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = defaultMaxTopK
	}
	if opts.CitationLimit <= 0 {
		opts.CitationLimit = defaultCitationLimit
	}
	if opts.IngestMode == "" {
		opts.IngestMode = IngestAppend
	}
	return &Pipeline{
		chunker:     deps.Chunker,
		embedder:    deps.Embedder,
		index:       deps.Index,
		retriever:   deps.Retriever,
		reranker:    deps.Reranker,
		synthesizer: deps.Synthesizer,
		accountant:  deps.Accountant,
		recorder:    deps.Recorder,
		opts:        opts,
	}
}

// IngestInput 入库输入。Chunking 为空时使用默认切分参数。
type IngestInput struct {
	Text     string
	Source   string
	Title    string
	Chunking *ChunkOptions
}

// IngestResult 入库结果。
type IngestResult struct {
	ChunksCreated    int     `json:"chunks_created"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// Ingest 依次执行 Chunking -> Embedding -> Upserting。
// 全部片段向量化成功之前不会写入任何数据；失败时返回 *StageError。
func (p *Pipeline) Ingest(ctx context.Context, in IngestInput) (res *IngestResult, err error) {
	start := time.Now()
	// 片段元数据、replace 删除与用量记录使用同一个规范化后的来源
	in.Source = strings.TrimSpace(in.Source)
	in.Title = strings.TrimSpace(in.Title)
	ctx = logger.WithContext(ctx, logger.PipelineKey, pipelineIngest)
	ctx, span := tracer.Start(ctx, "rag.ingest")
	span.SetAttributes(attribute.String("rag.source", in.Source))
	defer func() { tracer.EndSpan(span, err) }()

	embeddingTokens := 0
	defer func() {
		p.finish(ctx, pipelineIngest, in.Source, start, err, UsageStats{
			PromptTokens:  embeddingTokens,
			TotalTokens:   embeddingTokens,
			EstimatedCost: p.accountant.EstimateEmbeddingCost(embeddingTokens),
		}, embeddingTokens)
	}()

	// 1) Chunking
	stageStart := time.Now()
	chunks, err := p.chunk(in)
	p.observe(pipelineIngest, StageChunking, stageStart, err)
	if err != nil {
		return nil, &StageError{Stage: StageChunking, Err: err}
	}
	logger.Debug(ctx, "document chunked", "source", in.Source, "chunks", len(chunks))

	// 2) Embedding
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	stageStart = time.Now()
	ectx, cancel := withStageTimeout(ctx, p.opts.Timeouts.Embedding)
	embedded, err := p.embedder.Embed(ectx, texts)
	err = stageCause(ectx, err)
	cancel()
	p.observe(pipelineIngest, StageEmbedding, stageStart, err)
	if err != nil {
		return nil, &StageError{Stage: StageEmbedding, Err: err}
	}
	embeddingTokens = embedded.Tokens

	// 3) Upserting
	createdAt := time.Now().UTC()
	docs := make([]VectorDocument, len(chunks))
	for i, c := range chunks {
		docs[i] = VectorDocument{
			Content:   c.Content,
			Embedding: embedded.Vectors[i],
			Metadata: ChunkMetadata{
				Source:    c.SourceID,
				Title:     c.Title,
				Position:  c.Position,
				ChunkSize: c.ChunkSize,
				Overlap:   c.Overlap,
				CreatedAt: createdAt,
			},
		}
	}
	stageStart = time.Now()
	uctx, cancel := withStageTimeout(ctx, p.opts.Timeouts.Upsert)
	err = p.upsert(uctx, in.Source, docs)
	err = stageCause(uctx, err)
	cancel()
	p.observe(pipelineIngest, StageUpserting, stageStart, err)
	if err != nil {
		return nil, &StageError{Stage: StageUpserting, Err: err}
	}
	metrics.ChunksIngested.Add(float64(len(docs)))

	res = &IngestResult{
		ChunksCreated:    len(docs),
		TotalTokens:      embeddingTokens,
		EstimatedCost:    p.accountant.EstimateEmbeddingCost(embeddingTokens),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	logger.Info(ctx, "document ingested",
		"source", in.Source,
		"chunks", res.ChunksCreated,
		"tokens", res.TotalTokens,
		"duration_ms", res.ProcessingTimeMs,
	)
	return res, nil
}

// ValidateIngest 只做校验与切分，不调用任何外部服务。
func (p *Pipeline) ValidateIngest(in IngestInput) error {
	_, err := p.chunk(in)
	return err
}

func (p *Pipeline) chunk(in IngestInput) ([]Chunk, error) {
	source := strings.TrimSpace(in.Source)
	if source == "" {
		return nil, newValidationError("source", "must not be empty")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, newValidationError("text", "must not be empty")
	}
	if p.opts.MaxTextRunes > 0 && utf8.RuneCountInString(in.Text) > p.opts.MaxTextRunes {
		return nil, newValidationError("text", fmt.Sprintf("exceeds %d characters", p.opts.MaxTextRunes))
	}

	opts := p.chunker.Defaults()
	if in.Chunking != nil {
		opts = *in.Chunking
	}
	chunks, err := p.chunker.Chunk(in.Text, source, strings.TrimSpace(in.Title), opts)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNoValidChunks
	}
	return chunks, nil
}

// upsert 先写入新片段；replace 模式下再删除该来源的旧片段，删除失败则撤回本次写入。
func (p *Pipeline) upsert(ctx context.Context, source string, docs []VectorDocument) error {
	ids, err := p.index.Upsert(ctx, docs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVectorStore, err)
	}
	if p.opts.IngestMode != IngestReplace {
		return nil
	}
	if len(ids) != len(docs) {
		p.rollback(ctx, source, ids)
		return fmt.Errorf("%w: store returned %d ids for %d chunks", ErrVectorStore, len(ids), len(docs))
	}
	if err := p.index.DeleteBySource(ctx, source, ids); err != nil {
		p.rollback(ctx, source, ids)
		return fmt.Errorf("%w: delete previous chunks: %w", ErrVectorStore, err)
	}
	return nil
}

// rollback 删除本次写入的片段，使用独立超时以免受已超时的阶段上下文影响。
func (p *Pipeline) rollback(ctx context.Context, source string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := p.index.Delete(rctx, ids); err != nil {
		logger.Error(ctx, "failed to roll back inserted chunks", err, "source", source, "chunks", len(ids))
	}
}

// QueryInput 问答输入。TopK / CitationLimit <= 0 时使用默认值。
type QueryInput struct {
	Query         string
	TopK          int
	CitationLimit int
}

// QueryResult 问答结果。失败时各字段为零值。
type QueryResult struct {
	Answer    string         `json:"answer"`
	Citations []Citation     `json:"citations"`
	Timing    PipelineTiming `json:"timing"`
	Usage     UsageStats     `json:"usage"`
	// Candidates 检索返回的候选数
	Candidates int `json:"candidates"`
	// Dropped 因低于重排阈值被过滤的候选数
	Dropped int `json:"dropped"`
}

func emptyQueryResult() *QueryResult {
	return &QueryResult{Citations: []Citation{}}
}

// Query 依次执行 Retrieving -> Reranking -> Synthesizing。
// 任一阶段失败时返回零值结果和标明阶段的 *StageError。
func (p *Pipeline) Query(ctx context.Context, in QueryInput) (res *QueryResult, err error) {
	start := time.Now()
	ctx = logger.WithContext(ctx, logger.PipelineKey, pipelineQuery)
	ctx, span := tracer.Start(ctx, "rag.query")
	defer func() { tracer.EndSpan(span, err) }()

	var usage UsageStats
	queryTokens := 0
	defer func() {
		p.finish(ctx, pipelineQuery, "", start, err, usage, queryTokens)
	}()

	topK := in.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}
	topK = min(topK, p.opts.MaxTopK)
	citationLimit := in.CitationLimit
	if citationLimit <= 0 {
		citationLimit = p.opts.CitationLimit
	}
	span.SetAttributes(attribute.Int("rag.top_k", topK), attribute.Int("rag.citation_limit", citationLimit))

	// 1) Retrieving
	stageStart := time.Now()
	rctx, cancel := withStageTimeout(ctx, p.opts.Timeouts.Retrieval)
	retrieved, err := p.retriever.Retrieve(rctx, in.Query, topK)
	err = stageCause(rctx, err)
	cancel()
	retrievalMs := time.Since(stageStart).Milliseconds()
	p.observe(pipelineQuery, StageRetrieving, stageStart, err)
	if err != nil {
		return emptyQueryResult(), &StageError{Stage: StageRetrieving, Err: err}
	}
	queryTokens = retrieved.QueryTokens

	// 2) Reranking
	stageStart = time.Now()
	rrctx, cancel := withStageTimeout(ctx, p.opts.Timeouts.Rerank)
	reranked, err := p.reranker.Rerank(rrctx, in.Query, retrieved.Results)
	err = stageCause(rrctx, err)
	cancel()
	rerankMs := time.Since(stageStart).Milliseconds()
	p.observe(pipelineQuery, StageReranking, stageStart, err)
	if err != nil {
		return emptyQueryResult(), &StageError{Stage: StageReranking, Err: err}
	}
	if reranked.Dropped > 0 {
		metrics.RerankDropped.Add(float64(reranked.Dropped))
	}

	// 3) Synthesizing
	stageStart = time.Now()
	sctx, cancel := withStageTimeout(ctx, p.opts.Timeouts.Synthesis)
	synth, err := p.synthesizer.Synthesize(sctx, in.Query, reranked.Results, citationLimit)
	err = stageCause(sctx, err)
	cancel()
	llmMs := time.Since(stageStart).Milliseconds()
	p.observe(pipelineQuery, StageSynthesizing, stageStart, err)
	if err != nil {
		return emptyQueryResult(), &StageError{Stage: StageSynthesizing, Err: err}
	}

	embeddingUsage := UsageStats{
		PromptTokens:  queryTokens,
		TotalTokens:   queryTokens,
		EstimatedCost: p.accountant.EstimateEmbeddingCost(queryTokens),
	}
	usage = embeddingUsage.Add(synth.Usage)

	res = &QueryResult{
		Answer:    synth.Answer,
		Citations: synth.Citations,
		Timing: PipelineTiming{
			RetrievalMs: retrievalMs,
			RerankMs:    rerankMs,
			LLMMs:       llmMs,
			TotalMs:     time.Since(start).Milliseconds(),
		},
		Usage:      usage,
		Candidates: len(retrieved.Results),
		Dropped:    reranked.Dropped,
	}
	logger.Info(ctx, "query answered",
		"candidates", res.Candidates,
		"dropped", res.Dropped,
		"citations", len(res.Citations),
		"total_tokens", usage.TotalTokens,
		"total_ms", res.Timing.TotalMs,
	)
	return res, nil
}

// Count 返回索引中的片段数量。
func (p *Pipeline) Count(ctx context.Context) (int64, error) {
	n, err := p.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrVectorStore, err)
	}
	return n, nil
}

// Clear 清空索引。
func (p *Pipeline) Clear(ctx context.Context) error {
	if err := p.index.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrVectorStore, err)
	}
	logger.Warn(ctx, "vector index cleared")
	return nil
}

// Sources 返回按来源聚合的索引内容，最近写入的在前。
func (p *Pipeline) Sources(ctx context.Context) ([]SourceSummary, error) {
	out, err := p.index.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVectorStore, err)
	}
	if out == nil {
		out = []SourceSummary{}
	}
	return out, nil
}

func (p *Pipeline) observe(pipeline string, stage Stage, start time.Time, err error) {
	metrics.PipelineStageDuration.WithLabelValues(pipeline, string(stage)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PipelineStageFailures.WithLabelValues(pipeline, string(stage)).Inc()
	}
}

// finish 上报运行结果并写入用量流水，流水写入失败只记录日志。
func (p *Pipeline) finish(ctx context.Context, pipeline, source string, start time.Time, err error, usage UsageStats, embeddingTokens int) {
	status := "success"
	var failed Stage
	if err != nil {
		status = "error"
		var se *StageError
		if errors.As(err, &se) {
			failed = se.Stage
		}
		logger.Error(ctx, pipeline+" pipeline failed", err, "stage", string(failed))
	}
	metrics.PipelineRunsTotal.WithLabelValues(pipeline, status).Inc()
	if usage.EstimatedCost > 0 {
		metrics.EstimatedCostTotal.WithLabelValues(pipeline).Add(usage.EstimatedCost)
	}

	if p.recorder == nil {
		return
	}
	rec := &UsageRecord{
		Pipeline:         pipeline,
		Source:           source,
		Status:           status,
		FailedStage:      failed,
		EmbeddingTokens:  embeddingTokens,
		PromptTokens:     max(usage.PromptTokens-embeddingTokens, 0),
		CompletionTokens: usage.CompletionTokens,
		EstimatedCost:    usage.EstimatedCost,
		DurationMs:       time.Since(start).Milliseconds(),
	}
	if err := p.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn(ctx, "failed to record usage", "error", err.Error())
	}
}

func withStageTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// stageCause 将阶段自身的超时标记为 ErrStageTimeout。
func stageCause(stageCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrStageTimeout) {
		return fmt.Errorf("%w: %w", ErrStageTimeout, err)
	}
	return err
}
