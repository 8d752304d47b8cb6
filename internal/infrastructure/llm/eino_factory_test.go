package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-rag-api/internal/config"
	"docqa-rag-api/internal/infrastructure/provider"
)

type stubChatModel struct {
	calls int
	err   error
}

func (s *stubChatModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (s *stubChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestFactoryUnknownProvider(t *testing.T) {
	t.Parallel()
	f := NewEinoFactory(&config.Config{LLM: config.LLMConfig{DefaultProvider: "missing"}})

	_, err := f.Default(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider missing not found")
}

func TestGuardedChatModelTripsBreaker(t *testing.T) {
	t.Parallel()
	inner := &stubChatModel{err: errors.New("429 too many requests")}
	m := NewGuardedChatModel(inner, provider.NewGuard("llm.test", config.GuardConfig{MaxFailures: 1}))

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Equal(t, 1, inner.calls)
}

func TestGuardedChatModelPassesThrough(t *testing.T) {
	t.Parallel()
	m := NewGuardedChatModel(&stubChatModel{}, nil)

	out, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
}
