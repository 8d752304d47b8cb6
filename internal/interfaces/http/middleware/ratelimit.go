package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"docqa-rag-api/internal/config"
	"docqa-rag-api/internal/interfaces/http/dto"
	"docqa-rag-api/pkg/errors"
	"docqa-rag-api/pkg/logger"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// KeyFunc 限流键
type KeyFunc func(c *gin.Context) string

// ClientPathKey 按客户端 IP 与路由模板限流
func ClientPathKey(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return "ratelimit:" + c.ClientIP() + ":" + path
}

// RateLimit 限流中间件；limiter 出错时放行
func RateLimit(cfg config.RateLimitConfig, limiter RateLimiter, keyFn KeyFunc) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if keyFn == nil {
		keyFn = ClientPathKey
	}

	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), keyFn(c), cfg.RequestsPerSecond, time.Second)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err.Error())
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(1))
			dto.AbortWithAppError(c, errors.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

// LocalRateLimiter 进程内令牌桶限流，未启用 Redis 时使用
type LocalRateLimiter struct {
	mu       sync.Mutex
	burst    int
	idleTTL  time.Duration
	limiters map[string]*localEntry
	lastGC   time.Time
	now      func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter burst <= 0 时等于每窗口请求数
func NewLocalRateLimiter(burst int) *LocalRateLimiter {
	return &LocalRateLimiter{
		burst:    burst,
		idleTTL:  10 * time.Minute,
		limiters: make(map[string]*localEntry),
		now:      time.Now,
	}
}

// Allow 实现 RateLimiter
func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.gc(now)

	e, ok := l.limiters[key]
	if !ok {
		burst := l.burst
		if burst <= 0 {
			burst = limit
		}
		every := rate.Every(window / time.Duration(max(limit, 1)))
		e = &localEntry{limiter: rate.NewLimiter(every, burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// gc 清理长时间未访问的键，调用方持锁
func (l *LocalRateLimiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < l.idleTTL {
		return
	}
	l.lastGC = now
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, k)
		}
	}
}
