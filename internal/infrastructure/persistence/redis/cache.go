package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"docqa-rag-api/internal/application/rag"
	"docqa-rag-api/pkg/logger"
)

var cacheTracer = otel.Tracer("redis.cache")

var _ rag.QueryEmbeddingCache = (*EmbeddingCache)(nil)

// EmbeddingCache 查询向量的 Read-Through 缓存
type EmbeddingCache struct {
	client *Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewEmbeddingCache 创建查询向量缓存
func NewEmbeddingCache(client *Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{client: client, ttl: ttl}
}

// GetOrLoad 使用 singleflight 防止缓存击穿。
// Redis 不可用时直接回源，不影响查询。
func (c *EmbeddingCache) GetOrLoad(ctx context.Context, key string, loader func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetOrLoad",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	// 尝试从缓存获取
	raw, err := c.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		if vec, decodeErr := decodeVector(raw); decodeErr == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return vec, nil
		}
	} else if !IsNil(err) {
		span.RecordError(err)
		logger.Warn(ctx, "embedding cache read failed", "error", err)
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))

	// 合并并发请求
	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		vec, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		raw, err := encodeVector(vec)
		if err == nil {
			if setErr := c.client.rdb.Set(ctx, key, raw, c.ttl).Err(); setErr != nil {
				// 缓存写入失败不影响返回结果
				span.RecordError(setErr)
			}
		}
		return vec, nil
	})

	span.SetAttributes(attribute.Bool("cache.shared", shared))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result.([]float32), nil
}

func encodeVector(vec []float32) ([]byte, error) {
	b, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vector: %w", err)
	}
	return b, nil
}

func decodeVector(raw []byte) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vector: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty cached vector")
	}
	return vec, nil
}
