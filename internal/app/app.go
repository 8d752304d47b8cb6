// Package app 组装各层依赖，供 api-server 与 ingest-worker 共用
package app

import (
	"context"
	"errors"
	"fmt"

	"docqa-rag-api/internal/application/ingest"
	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/internal/config"
	"docqa-rag-api/internal/infrastructure/embedding"
	"docqa-rag-api/internal/infrastructure/llm"
	"docqa-rag-api/internal/infrastructure/messaging"
	"docqa-rag-api/internal/infrastructure/persistence/memory"
	"docqa-rag-api/internal/infrastructure/persistence/milvus"
	"docqa-rag-api/internal/infrastructure/persistence/postgres"
	"docqa-rag-api/internal/infrastructure/persistence/redis"
	"docqa-rag-api/internal/infrastructure/provider"
	"docqa-rag-api/internal/infrastructure/rerank"
	"docqa-rag-api/pkg/logger"
)

// App 进程级依赖容器。可选组件未启用时为 nil。
type App struct {
	Config   *config.Config
	Pipeline *rag.Pipeline

	Milvus   *milvus.Client
	Redis    *redis.Client
	Postgres *postgres.Client

	UsageRepo   *postgres.UsageEventRepository
	Jobs        *ingest.Service
	RateLimiter *redis.RateLimiter

	closers []func() error
}

// New 按配置创建全部依赖；返回的 cleanup 逆序释放连接
func New(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	a := &App{Config: cfg}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, func() {}, err
	}
	return a, a.Close, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	index, err := a.vectorIndex(ctx)
	if err != nil {
		return err
	}

	embedProvider, err := newEmbeddingProvider(ctx, &cfg.Embedding)
	if err != nil {
		return err
	}

	chatModel, err := llm.NewEinoFactory(cfg).Get(ctx, cfg.Pipeline.LLMProvider)
	if err != nil {
		return fmt.Errorf("init chat model: %w", err)
	}

	if cfg.Cache.Redis.Enabled {
		a.Redis, err = redis.NewClient(&cfg.Cache.Redis)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.closers = append(a.closers, a.Redis.Close)
	}

	var recorder rag.UsageRecorder
	if cfg.Database.Postgres.Enabled {
		a.Postgres, err = postgres.NewClient(&cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		a.closers = append(a.closers, a.Postgres.Close)
		if err := a.Postgres.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		a.UsageRepo = postgres.NewUsageEventRepository(a.Postgres)
		recorder = a.UsageRepo
	}

	accountant := rag.NewUsageAccountant(rag.Pricing{
		CharsPerToken:        cfg.Pricing.CharsPerToken,
		EmbeddingPerMillion:  cfg.Pricing.EmbeddingPerMillion,
		PromptPerMillion:     cfg.Pricing.PromptPerMillion,
		CompletionPerMillion: cfg.Pricing.CompletionPerMillion,
	})
	embedder := rag.NewEmbedder(embedProvider, accountant, rag.EmbedderOptions{
		BatchSize:      cfg.Embedding.BatchSize,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		Dimension:      cfg.Embedding.Dimension,
	})
	retriever := rag.NewRetriever(embedder, index)
	if a.Redis != nil {
		retriever.WithCache(redis.NewEmbeddingCache(a.Redis, cfg.Cache.QueryEmbeddingTTL), cfg.Embedding.Model)
	}

	a.Pipeline = rag.NewPipeline(rag.PipelineDeps{
		Chunker:     rag.NewChunker(rag.ChunkOptions{ChunkSize: cfg.Pipeline.ChunkSize, Overlap: cfg.Pipeline.ChunkOverlap}).WithMaxChunkSize(cfg.Pipeline.MaxChunkSize),
		Embedder:    embedder,
		Index:       index,
		Retriever:   retriever,
		Reranker:    newReranker(&cfg.Rerank),
		Synthesizer: rag.NewAnswerSynthesizer(chatModel, accountant, rag.SynthesizerOptions{CitationLimit: cfg.Pipeline.CitationLimit}),
		Accountant:  accountant,
		Recorder:    recorder,
	}, rag.PipelineOptions{
		TopK:          cfg.Pipeline.TopK,
		MaxTopK:       cfg.Pipeline.MaxTopK,
		CitationLimit: cfg.Pipeline.CitationLimit,
		MaxTextRunes:  cfg.Pipeline.MaxTextRunes,
		IngestMode:    rag.IngestMode(cfg.Pipeline.IngestMode),
		Timeouts: rag.StageTimeouts{
			Embedding: cfg.Pipeline.Timeouts.Embedding,
			Upsert:    cfg.Pipeline.Timeouts.Upsert,
			Retrieval: cfg.Pipeline.Timeouts.Retrieval,
			Rerank:    cfg.Pipeline.Timeouts.Rerank,
			Synthesis: cfg.Pipeline.Timeouts.Synthesis,
		},
	})

	if a.Redis != nil {
		stream := cfg.Messaging.RedisStream
		producer := messaging.NewProducer(a.Redis.Redis(), int64(stream.MaxLen))
		a.Jobs = ingest.NewService(a.Pipeline, redis.NewJobStore(a.Redis, stream.JobStatusTTL), producer)
		a.RateLimiter = redis.NewRateLimiter(a.Redis)
	}

	logger.Info(ctx, "application initialized",
		"vector_backend", cfg.Vector.Backend,
		"embedding_provider", cfg.Embedding.Provider,
		"rerank_provider", cfg.Rerank.Provider,
		"ingest_mode", cfg.Pipeline.IngestMode,
		"redis", a.Redis != nil,
		"postgres", a.Postgres != nil,
	)
	return nil
}

func (a *App) vectorIndex(ctx context.Context) (rag.VectorIndex, error) {
	cfg := a.Config
	if cfg.Vector.Backend == "memory" {
		return memory.NewVectorIndex(cfg.Embedding.Dimension), nil
	}

	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		return nil, fmt.Errorf("init milvus: %w", err)
	}
	a.Milvus = client
	a.closers = append(a.closers, client.Close)

	index := milvus.NewVectorIndex(client, cfg.Embedding.Dimension)
	if err := index.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure milvus collection: %w", err)
	}
	return index, nil
}

func newEmbeddingProvider(ctx context.Context, cfg *config.EmbeddingConfig) (rag.EmbeddingProvider, error) {
	guard := provider.NewGuard("embedding", cfg.Guard)
	switch cfg.Provider {
	case "http":
		return embedding.NewClient(cfg, guard), nil
	case "openai", "":
		e, err := embedding.NewEinoEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return embedding.NewEinoProvider(e, guard), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func newReranker(cfg *config.RerankConfig) *rag.Reranker {
	opts := rag.RerankOptions{ThresholdEnabled: cfg.ThresholdEnabled, Threshold: cfg.Threshold}
	if cfg.Provider == "http" {
		return rag.NewReranker(rerank.NewClient(cfg, provider.NewGuard("rerank", cfg.Guard)), opts)
	}
	return rag.NewSimilarityReranker(opts)
}

// Close 逆序关闭已建立的连接
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		logger.Error(context.Background(), "failed to close dependencies", err)
	}
}
