package eino

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docqa-rag-api/pkg/metrics"
)

// startTimeKey 用于在 Context 中存储调用开始时间
// 这样可以在 OnEnd/OnError 时计算总耗时
type startTimeKey struct{}

// newChatModelCallbackHandler 创建大模型调用的回调处理器
//
// 每次答案合成调用模型时触发，记录：
//   - 调用次数（成功/失败）
//   - 耗时
//   - Token 消耗
//   - 分布式追踪信息
func newChatModelCallbackHandler() *cbtemplate.ModelCallbackHandler {
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			modelName := ""
			if input != nil && input.Config != nil {
				modelName = input.Config.Model
			}
			return startSpan(ctx, info, "llm.generate", attribute.String("llm.model", modelName))
		},

		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			component := componentName(info)
			modelName := ""
			if output != nil && output.Config != nil {
				modelName = output.Config.Model
			}

			metrics.LLMCallTotal.WithLabelValues(component, modelName, "success").Inc()
			if d := elapsedSeconds(ctx); d > 0 {
				metrics.LLMCallDuration.WithLabelValues(component, modelName).Observe(d)
			}

			span := trace.SpanFromContext(ctx)
			if output != nil && output.TokenUsage != nil {
				metrics.LLMTokensUsed.WithLabelValues(modelName, "prompt").Add(float64(output.TokenUsage.PromptTokens))
				metrics.LLMTokensUsed.WithLabelValues(modelName, "completion").Add(float64(output.TokenUsage.CompletionTokens))
				span.SetAttributes(
					attribute.Int("llm.prompt_tokens", output.TokenUsage.PromptTokens),
					attribute.Int("llm.completion_tokens", output.TokenUsage.CompletionTokens),
				)
			}
			span.End()
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			component := componentName(info)
			metrics.LLMCallTotal.WithLabelValues(component, "", "error").Inc()
			if d := elapsedSeconds(ctx); d > 0 {
				metrics.LLMCallDuration.WithLabelValues(component, "").Observe(d)
			}
			endWithError(ctx, err)
			return ctx
		},
	}
}

// newEmbeddingCallbackHandler 创建 Embedding 调用的回调处理器
func newEmbeddingCallbackHandler() *cbtemplate.EmbeddingCallbackHandler {
	return &cbtemplate.EmbeddingCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *embedding.CallbackInput) context.Context {
			texts := 0
			if input != nil {
				texts = len(input.Texts)
			}
			return startSpan(ctx, info, "embedding.embed", attribute.Int("embedding.texts", texts))
		},

		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *embedding.CallbackOutput) context.Context {
			component := componentName(info)
			modelName := ""
			if output != nil && output.Config != nil {
				modelName = output.Config.Model
			}
			metrics.LLMCallTotal.WithLabelValues(component, modelName, "success").Inc()
			if d := elapsedSeconds(ctx); d > 0 {
				metrics.LLMCallDuration.WithLabelValues(component, modelName).Observe(d)
			}
			if output != nil && output.TokenUsage != nil {
				metrics.LLMTokensUsed.WithLabelValues(modelName, "embedding").Add(float64(output.TokenUsage.PromptTokens))
			}
			trace.SpanFromContext(ctx).End()
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			metrics.LLMCallTotal.WithLabelValues(componentName(info), "", "error").Inc()
			endWithError(ctx, err)
			return ctx
		},
	}
}

func startSpan(ctx context.Context, info *einocb.RunInfo, name string, attrs ...attribute.KeyValue) context.Context {
	ctx = context.WithValue(ctx, startTimeKey{}, time.Now())
	if info != nil {
		attrs = append(attrs,
			attribute.String("eino.node_name", info.Name),
			attribute.String("eino.type", info.Type),
		)
	}
	ctx, _ = otel.Tracer("eino").Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx
}

func endWithError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func componentName(info *einocb.RunInfo) string {
	if info == nil || info.Name == "" {
		return "unknown"
	}
	return info.Name
}

// elapsedSeconds 计算从 OnStart 到当前的时间差（秒），取不到开始时间时返回 0
func elapsedSeconds(ctx context.Context) float64 {
	start, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok || start.IsZero() {
		return 0
	}
	return time.Since(start).Seconds()
}
