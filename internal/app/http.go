package app

import (
	"docqa-rag-api/internal/application/extract"
	"docqa-rag-api/internal/interfaces/http/handler"
	"docqa-rag-api/internal/interfaces/http/middleware"
	"docqa-rag-api/internal/interfaces/http/router"
)

// Router 创建 HTTP 路由
func (a *App) Router() *router.Router {
	cfg := a.Config

	var jobs handler.JobService
	if a.Jobs != nil {
		jobs = a.Jobs
	}
	var limiter middleware.RateLimiter
	if a.RateLimiter != nil {
		limiter = a.RateLimiter
	}

	handlers := router.Handlers{
		Health:   handler.NewHealthHandler(cfg.App.Version, a.dependencies()...),
		Query:    handler.NewQueryHandler(a.Pipeline),
		Document: handler.NewDocumentHandler(a.Pipeline, jobs, extract.NewExtractor(cfg.Server.HTTP.MaxUploadBytes)),
		Usage:    handler.NewUsageHandler(nil),
	}
	if a.UsageRepo != nil {
		handlers.Usage = handler.NewUsageHandler(a.UsageRepo)
	}
	return router.New(cfg, handlers, limiter)
}

func (a *App) dependencies() []handler.Dependency {
	var deps []handler.Dependency
	if a.Milvus != nil {
		deps = append(deps, handler.Dependency{Name: "milvus", Checker: a.Milvus, Required: true})
	}
	if a.Redis != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Checker: a.Redis})
	}
	if a.Postgres != nil {
		deps = append(deps, handler.Dependency{Name: "postgres", Checker: a.Postgres})
	}
	return deps
}
