// Package provider 为外部模型服务调用提供熔断与限流保护。
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"docqa-rag-api/internal/config"
	"docqa-rag-api/pkg/logger"
	"docqa-rag-api/pkg/metrics"
)

// ErrUnavailable 熔断器处于打开状态，请求被直接拒绝。
var ErrUnavailable = errors.New("provider temporarily unavailable")

// Guard 组合令牌桶限流与熔断器。零值 *Guard（nil）直接执行调用。
type Guard struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGuard 创建 Guard。RequestsPerSecond <= 0 时不限流，MaxFailures == 0 时使用默认值 5。
func NewGuard(name string, cfg config.GuardConfig) *Guard {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// 调用方取消不计入失败
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "provider circuit breaker state changed",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Guard{name: name, breaker: breaker, limiter: limiter}
}

// Name 返回被保护的服务名。
func (g *Guard) Name() string {
	if g == nil {
		return ""
	}
	return g.name
}

// Do 在限流与熔断保护下执行 fn。
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			metrics.ProviderCallTotal.WithLabelValues(g.name, "rejected").Inc()
			return fmt.Errorf("%s rate limit wait: %w", g.name, err)
		}
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	switch {
	case err == nil:
		metrics.ProviderCallTotal.WithLabelValues(g.name, "success").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ProviderCallTotal.WithLabelValues(g.name, "rejected").Inc()
		return fmt.Errorf("%s: %w: %w", g.name, ErrUnavailable, err)
	default:
		metrics.ProviderCallTotal.WithLabelValues(g.name, "error").Inc()
		return err
	}
}

// State 返回熔断器当前状态，用于健康检查。
func (g *Guard) State() string {
	if g == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}
