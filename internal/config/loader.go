// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load 加载配置文件
// 按优先级加载：默认配置 -> 环境配置 -> 环境变量
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 1. 加载默认配置
	if err := loadConfigFile(v, "configs/config.yaml", false); err != nil {
		return nil, err
	}

	// 2. 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	envFile := fmt.Sprintf("configs/config.%s.yaml", env)
	if err := loadConfigFile(v, envFile, true); err != nil {
		return nil, err
	}

	// 3. 绑定环境变量 (直接覆盖)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值 (兜底)
	setDefaults(v)

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// 执行环境变量替换
	expanded := expandEnv(string(content))

	// 加载到 viper
	reader := strings.NewReader(expanded)
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		// 手动标记已加载文件，防止后续 ReadInConfig 报错
		v.SetConfigFile(path)
	} else {
		if err := v.MergeConfig(reader); err != nil {
			return fmt.Errorf("failed to merge processed config %s: %w", path, err)
		}
	}

	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符
func expandEnv(s string) string {
	// 匹配 ${VAR} 或 ${VAR:default}
	// g1: 变量名, g2: 默认值部分（含冒号）, g3: 默认值内容
	re := regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		submatch := re.FindStringSubmatch(match)
		key := submatch[1]
		hasDefault := submatch[2] != ""
		defVal := submatch[3]

		val, ok := os.LookupEnv(key)
		if ok {
			return val
		}
		if hasDefault {
			return defVal
		}
		return match // 原样返回，或者返回空？保留原样以便识别未定义的变量
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 应用默认值
	v.SetDefault("app.name", "docqa-rag-api")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// HTTP 服务器默认值
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "120s")
	v.SetDefault("server.http.idle_timeout", "120s")
	v.SetDefault("server.http.max_upload_bytes", 10<<20)

	// 数据库默认值
	v.SetDefault("database.postgres.enabled", false)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "docqa")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")

	// Redis 默认值
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 50)
	v.SetDefault("cache.redis.min_idle_conns", 5)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")
	v.SetDefault("cache.query_embedding_ttl", "10m")

	// 向量存储默认值
	v.SetDefault("vector.backend", "milvus")
	v.SetDefault("vector.milvus.host", "localhost")
	v.SetDefault("vector.milvus.port", 19530)
	v.SetDefault("vector.milvus.collection_prefix", "docqa")
	v.SetDefault("vector.milvus.index_type", "HNSW")
	v.SetDefault("vector.milvus.metric_type", "COSINE")
	v.SetDefault("vector.milvus.hnsw_m", 16)
	v.SetDefault("vector.milvus.hnsw_ef_construction", 200)
	v.SetDefault("vector.milvus.hnsw_ef_search", 128)
	v.SetDefault("vector.milvus.list_limit", 16384)

	// LLM 默认值
	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.guard.requests_per_second", 5)
	v.SetDefault("llm.guard.burst", 5)
	v.SetDefault("llm.guard.max_failures", 5)
	v.SetDefault("llm.guard.open_timeout", "30s")

	// Embedding 默认值
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.max_concurrency", 4)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.guard.requests_per_second", 20)
	v.SetDefault("embedding.guard.burst", 20)
	v.SetDefault("embedding.guard.max_failures", 5)
	v.SetDefault("embedding.guard.open_timeout", "30s")

	// Rerank 默认值
	v.SetDefault("rerank.provider", "none")
	v.SetDefault("rerank.timeout", "15s")
	v.SetDefault("rerank.threshold_enabled", false)
	v.SetDefault("rerank.threshold", 0.0)
	v.SetDefault("rerank.guard.requests_per_second", 10)
	v.SetDefault("rerank.guard.burst", 10)
	v.SetDefault("rerank.guard.max_failures", 5)
	v.SetDefault("rerank.guard.open_timeout", "30s")

	// 流水线默认值
	v.SetDefault("pipeline.chunk_size", 1000)
	v.SetDefault("pipeline.chunk_overlap", 200)
	v.SetDefault("pipeline.max_chunk_size", 16383)
	v.SetDefault("pipeline.top_k", 10)
	v.SetDefault("pipeline.max_top_k", 50)
	v.SetDefault("pipeline.citation_limit", 5)
	v.SetDefault("pipeline.max_text_runes", 2_000_000)
	v.SetDefault("pipeline.ingest_mode", "append")
	v.SetDefault("pipeline.timeouts.embedding", "60s")
	v.SetDefault("pipeline.timeouts.upsert", "30s")
	v.SetDefault("pipeline.timeouts.retrieval", "15s")
	v.SetDefault("pipeline.timeouts.rerank", "15s")
	v.SetDefault("pipeline.timeouts.synthesis", "90s")

	// 计费默认值 (text-embedding-3-small / gpt-4o-mini)
	v.SetDefault("pricing.chars_per_token", 4.0)
	v.SetDefault("pricing.embedding_per_million", 0.02)
	v.SetDefault("pricing.prompt_per_million", 0.15)
	v.SetDefault("pricing.completion_per_million", 0.60)

	// 消息队列默认值
	v.SetDefault("messaging.redis_stream.max_len", 10000)
	v.SetDefault("messaging.redis_stream.consumer_group_prefix", "docqa")
	v.SetDefault("messaging.redis_stream.block_timeout", "5s")
	v.SetDefault("messaging.redis_stream.claim_interval", "30s")
	v.SetDefault("messaging.redis_stream.retry_limit", 3)
	v.SetDefault("messaging.redis_stream.retry_backoff.initial", "1s")
	v.SetDefault("messaging.redis_stream.retry_backoff.max", "30s")
	v.SetDefault("messaging.redis_stream.retry_backoff.multiplier", 2.0)
	v.SetDefault("messaging.redis_stream.job_status_ttl", "24h")

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.output", "stdout")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.exporter", "otlp")
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9464)
	v.SetDefault("observability.metrics.path", "/metrics")

	// 安全默认值
	v.SetDefault("security.rate_limit.enabled", false)
	v.SetDefault("security.rate_limit.requests_per_second", 20)
	v.SetDefault("security.rate_limit.burst", 40)
}

// milvusMaxContentBytes content 列的 VARCHAR 字节上限
const milvusMaxContentBytes = 65535

// Validate 校验启动期必须满足的配置约束
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be positive, got %d", p.ChunkSize)
	}
	if p.MaxChunkSize <= 0 || p.MaxChunkSize*4 > milvusMaxContentBytes {
		return fmt.Errorf("pipeline.max_chunk_size must be in [1, %d], got %d", milvusMaxContentBytes/4, p.MaxChunkSize)
	}
	if p.ChunkSize > p.MaxChunkSize {
		return fmt.Errorf("pipeline.chunk_size must not exceed pipeline.max_chunk_size (%d), got %d", p.MaxChunkSize, p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap must be in [0, chunk_size), got %d", p.ChunkOverlap)
	}
	if p.TopK <= 0 || p.CitationLimit <= 0 {
		return fmt.Errorf("pipeline.top_k and pipeline.citation_limit must be positive")
	}
	switch p.IngestMode {
	case "append", "replace":
	default:
		return fmt.Errorf("pipeline.ingest_mode must be append or replace, got %q", p.IngestMode)
	}
	switch c.Vector.Backend {
	case "milvus", "memory":
	default:
		return fmt.Errorf("vector.backend must be milvus or memory, got %q", c.Vector.Backend)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	return nil
}
