// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Vector        VectorConfig        `yaml:"vector" mapstructure:"vector"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Rerank        RerankConfig        `yaml:"rerank" mapstructure:"rerank"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Pricing       PricingConfig       `yaml:"pricing" mapstructure:"pricing"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	// MaxUploadBytes 单个上传文件大小上限
	MaxUploadBytes int64 `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置（用量台账）
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
	// QueryEmbeddingTTL 查询向量缓存时间，0 表示关闭缓存
	QueryEmbeddingTTL time.Duration `yaml:"query_embedding_ttl" mapstructure:"query_embedding_ttl"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// VectorConfig 向量存储配置
type VectorConfig struct {
	// Backend 可选 milvus / memory
	Backend string       `yaml:"backend" mapstructure:"backend"`
	Milvus  MilvusConfig `yaml:"milvus" mapstructure:"milvus"`
}

// MilvusConfig Milvus 配置
type MilvusConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	CollectionPrefix   string `yaml:"collection_prefix" mapstructure:"collection_prefix"`
	IndexType          string `yaml:"index_type" mapstructure:"index_type"`
	MetricType         string `yaml:"metric_type" mapstructure:"metric_type"`
	HNSWM              int    `yaml:"hnsw_m" mapstructure:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" mapstructure:"hnsw_ef_construction"`
	HNSWEfSearch       int    `yaml:"hnsw_ef_search" mapstructure:"hnsw_ef_search"`
	// ListLimit listSources 聚合时单次扫描的最大行数
	ListLimit int `yaml:"list_limit" mapstructure:"list_limit"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Guard           GuardConfig               `yaml:"guard" mapstructure:"guard"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EmbeddingConfig Embedding 配置
type EmbeddingConfig struct {
	// Provider 可选 openai / http
	Provider       string        `yaml:"provider" mapstructure:"provider"`
	APIKey         string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	Model          string        `yaml:"model" mapstructure:"model"`
	Dimension      int           `yaml:"dimension" mapstructure:"dimension"`
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Guard          GuardConfig   `yaml:"guard" mapstructure:"guard"`
}

// RerankConfig 重排配置
type RerankConfig struct {
	// Provider 可选 http / none
	Provider         string        `yaml:"provider" mapstructure:"provider"`
	Endpoint         string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey           string        `yaml:"api_key" mapstructure:"api_key"`
	Model            string        `yaml:"model" mapstructure:"model"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ThresholdEnabled bool          `yaml:"threshold_enabled" mapstructure:"threshold_enabled"`
	Threshold        float64       `yaml:"threshold" mapstructure:"threshold"`
	Guard            GuardConfig   `yaml:"guard" mapstructure:"guard"`
}

// GuardConfig 外部模型调用的熔断与限流配置
type GuardConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	MaxFailures       uint32        `yaml:"max_failures" mapstructure:"max_failures"`
	OpenTimeout       time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
}

// PipelineConfig 入库与问答流水线配置
type PipelineConfig struct {
	ChunkSize     int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	MaxChunkSize  int    `yaml:"max_chunk_size" mapstructure:"max_chunk_size"`
	TopK          int    `yaml:"top_k" mapstructure:"top_k"`
	MaxTopK       int    `yaml:"max_top_k" mapstructure:"max_top_k"`
	CitationLimit int    `yaml:"citation_limit" mapstructure:"citation_limit"`
	MaxTextRunes  int    `yaml:"max_text_runes" mapstructure:"max_text_runes"`
	IngestMode    string `yaml:"ingest_mode" mapstructure:"ingest_mode"`
	// LLMProvider 合成阶段使用的 LLM 提供商，为空时使用 llm.default_provider
	LLMProvider string        `yaml:"llm_provider" mapstructure:"llm_provider"`
	Timeouts    StageTimeouts `yaml:"timeouts" mapstructure:"timeouts"`
}

// StageTimeouts 各阶段超时
type StageTimeouts struct {
	Embedding time.Duration `yaml:"embedding" mapstructure:"embedding"`
	Upsert    time.Duration `yaml:"upsert" mapstructure:"upsert"`
	Retrieval time.Duration `yaml:"retrieval" mapstructure:"retrieval"`
	Rerank    time.Duration `yaml:"rerank" mapstructure:"rerank"`
	Synthesis time.Duration `yaml:"synthesis" mapstructure:"synthesis"`
}

// PricingConfig 计费估算配置（美元 / 百万 token）
type PricingConfig struct {
	CharsPerToken        float64 `yaml:"chars_per_token" mapstructure:"chars_per_token"`
	EmbeddingPerMillion  float64 `yaml:"embedding_per_million" mapstructure:"embedding_per_million"`
	PromptPerMillion     float64 `yaml:"prompt_per_million" mapstructure:"prompt_per_million"`
	CompletionPerMillion float64 `yaml:"completion_per_million" mapstructure:"completion_per_million"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	JobStatusTTL        time.Duration `yaml:"job_status_ttl" mapstructure:"job_status_ttl"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Exporter   string  `yaml:"exporter" mapstructure:"exporter"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int  `yaml:"burst" mapstructure:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
