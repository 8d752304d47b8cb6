package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers) {
	v1.POST("/query", h.Query.Query)

	docs := v1.Group("/documents")
	{
		docs.POST("", h.Document.Ingest)
		docs.DELETE("", h.Document.Clear)
		docs.POST("/upload", h.Document.Upload)
		docs.POST("/async", h.Document.IngestAsync)
		docs.GET("/jobs/:id", h.Document.GetJob)
		docs.GET("/sources", h.Document.Sources)
		docs.GET("/count", h.Document.Count)
	}

	usage := v1.Group("/usage")
	{
		usage.GET("/summary", h.Usage.Summary)
	}
}
