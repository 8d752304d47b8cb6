// Package milvus 提供基于 Milvus 的文档片段向量索引
package milvus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"go.opentelemetry.io/otel"

	"docqa-rag-api/internal/config"
	tracing "docqa-rag-api/pkg/tracer"
)

var tracer = otel.Tracer("milvus")

// Client 持有 Milvus 连接与索引参数，集合命名与读写由 VectorIndex 负责
type Client struct {
	milvus client.Client
	config *config.MilvusConfig
}

// NewClient 连接 Milvus，仅在同时配置用户名和密码时启用鉴权
func NewClient(ctx context.Context, cfg *config.MilvusConfig) (*Client, error) {
	conn := client.Config{Address: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}
	if cfg.User != "" && cfg.Password != "" {
		conn.Username = cfg.User
		conn.Password = cfg.Password
	}

	mc, err := client.NewClient(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", conn.Address, err)
	}
	return &Client{milvus: mc, config: cfg}, nil
}

func (c *Client) Close() error {
	return c.milvus.Close()
}

// HealthCheck 供 /ready 使用，服务端报告不健康时返回其原因
func (c *Client) HealthCheck(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "milvus.HealthCheck")
	defer func() { tracing.EndSpan(span, err) }()

	state, err := c.milvus.CheckHealth(ctx)
	if err != nil {
		return fmt.Errorf("milvus health check failed: %w", err)
	}
	if !state.IsHealthy {
		err = fmt.Errorf("milvus unhealthy: %s", strings.Join(state.Reasons, "; "))
		return err
	}
	return nil
}
