// Package llm 管理答案合成使用的 Eino ChatModel。
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"docqa-rag-api/internal/config"
	"docqa-rag-api/internal/infrastructure/provider"
)

// EinoFactory 管理多个 Eino ChatModel 客户端实例
type EinoFactory struct {
	config *config.LLMConfig
	guard  config.GuardConfig
	models map[string]model.BaseChatModel
	mu     sync.RWMutex
}

// NewEinoFactory 创建 Eino LLM 工厂，每个提供商各自使用一个熔断/限流 Guard
func NewEinoFactory(cfg *config.Config) *EinoFactory {
	return &EinoFactory{
		config: &cfg.LLM,
		guard:  cfg.LLM.Guard,
		models: make(map[string]model.BaseChatModel),
	}
}

// Get 获取指定名称的 ChatModel，如果未指定则返回默认客户端
func (f *EinoFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	if name == "" {
		name = f.config.DefaultProvider
	}

	f.mu.RLock()
	m, ok := f.models[name]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	// 惰性加载
	f.mu.Lock()
	defer f.mu.Unlock()

	// 再次检查防止竞态
	if m, ok = f.models[name]; ok {
		return m, nil
	}

	providerCfg, ok := f.config.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", name)
	}

	// 使用 Eino 的 OpenAI 适配器
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      providerCfg.APIKey,
		BaseURL:     providerCfg.BaseURL,
		Model:       providerCfg.Model,
		MaxTokens:   ptrInt(providerCfg.MaxTokens),
		Temperature: ptrFloat32(float32(providerCfg.Temperature)),
		Timeout:     providerCfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s: %w", name, err)
	}

	guarded := NewGuardedChatModel(chatModel, provider.NewGuard("llm."+name, f.guard))
	f.models[name] = guarded
	return guarded, nil
}

// Default 返回默认 ChatModel
func (f *EinoFactory) Default(ctx context.Context) (model.BaseChatModel, error) {
	return f.Get(ctx, "")
}

// GuardedChatModel 在熔断/限流保护下调用底层 ChatModel。
type GuardedChatModel struct {
	inner model.BaseChatModel
	guard *provider.Guard
}

var _ model.BaseChatModel = (*GuardedChatModel)(nil)

func NewGuardedChatModel(inner model.BaseChatModel, guard *provider.Guard) *GuardedChatModel {
	return &GuardedChatModel{inner: inner, guard: guard}
}

func (m *GuardedChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := m.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.inner.Generate(ctx, input, opts...)
		return err
	})
	return out, err
}

func (m *GuardedChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := m.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.inner.Stream(ctx, input, opts...)
		return err
	})
	return out, err
}

func ptrInt(i int) *int {
	if i <= 0 {
		return nil
	}
	return &i
}

func ptrFloat32(f float32) *float32 {
	return &f
}
