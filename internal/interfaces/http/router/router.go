// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docqa-rag-api/internal/config"
	"docqa-rag-api/internal/interfaces/http/handler"
	"docqa-rag-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health   *handler.HealthHandler
	Query    *handler.QueryHandler
	Document *handler.DocumentHandler
	Usage    *handler.UsageHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  middleware.RateLimiter
}

// New 创建路由器；limiter 为 nil 时使用进程内限流
func New(cfg *config.Config, handlers Handlers, limiter middleware.RateLimiter) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if limiter == nil {
		limiter = middleware.NewLocalRateLimiter(cfg.Security.RateLimit.Burst)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}
	r.engine.MaxMultipartMemory = maxMultipartMemory(cfg.Server.HTTP.MaxUploadBytes)

	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(r.cfg.Security.CORS))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.handlers.Health.Health)
	r.engine.GET("/ready", r.handlers.Health.Ready)
	r.engine.GET("/live", r.handlers.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	v1.Use(middleware.RateLimit(r.cfg.Security.RateLimit, r.limiter, middleware.ClientPathKey))
	RegisterV1Routes(v1, r.handlers)
}

func maxMultipartMemory(maxUpload int64) int64 {
	const floor = 8 << 20
	if maxUpload > floor {
		return maxUpload
	}
	return floor
}
