package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docqa-rag-api/internal/application/ingest"
	"docqa-rag-api/pkg/logger"
)

var tracer = otel.Tracer("messaging")

var _ ingest.Queue = (*Producer)(nil)

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// Enqueue 投递入库任务
func (p *Producer) Enqueue(ctx context.Context, req *ingest.Request) error {
	msg, err := NewIngestMessage(ctx, req)
	if err != nil {
		return err
	}
	_, err = p.Publish(ctx, StreamIngest, msg)
	return err
}

// NewIngestMessage 构造入库任务消息，携带请求与链路标识便于 worker 侧关联日志
func NewIngestMessage(ctx context.Context, req *ingest.Request) (*Message, error) {
	msg, err := NewMessage(req.JobID, MessageTypeIngest, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build ingest message: %w", err)
	}
	msg.SetMetadata("source", req.Source)
	msg.SetMetadata("request_id", req.RequestID)
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && req.RequestID == "" {
		msg.SetMetadata("request_id", reqID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		msg.SetMetadata("trace_id", sc.TraceID().String())
	}
	return msg, nil
}
