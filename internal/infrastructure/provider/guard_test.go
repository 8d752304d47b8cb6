package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-rag-api/internal/config"
)

func TestGuardOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	g := NewGuard("test-open", config.GuardConfig{MaxFailures: 2, OpenTimeout: time.Minute})
	boom := errors.New("upstream 500")
	calls := 0
	failing := func(context.Context) error {
		calls++
		return boom
	}

	for range 2 {
		err := g.Do(context.Background(), failing)
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", g.State())

	err := g.Do(context.Background(), failing)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, calls)
}

func TestGuardIgnoresCancellation(t *testing.T) {
	t.Parallel()
	g := NewGuard("test-cancel", config.GuardConfig{MaxFailures: 1})

	for range 3 {
		err := g.Do(context.Background(), func(context.Context) error { return context.Canceled })
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", g.State())
}

func TestGuardRateLimitRespectsContext(t *testing.T) {
	t.Parallel()
	g := NewGuard("test-rate", config.GuardConfig{RequestsPerSecond: 0.001, Burst: 1})
	ok := func(context.Context) error { return nil }

	require.NoError(t, g.Do(context.Background(), ok))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, ok)
	require.Error(t, err)
}

func TestNilGuardRunsDirectly(t *testing.T) {
	t.Parallel()
	var g *Guard
	called := false
	require.NoError(t, g.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Equal(t, "disabled", g.State())
}
