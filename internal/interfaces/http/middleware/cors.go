package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"docqa-rag-api/internal/config"
)

// CORS 跨域中间件，通配来源时不允许携带凭证
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	return cors.New(corsConfig(cfg))
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cfg.AllowedHeaders) == 0 {
		cfg.AllowedHeaders = []string{"Origin", "Content-Type", "Authorization", RequestIDHeader}
	}

	wildcard := slices.Contains(cfg.AllowedOrigins, "*")
	out := cors.Config{
		AllowMethods:     cfg.AllowedMethods,
		AllowHeaders:     cfg.AllowedHeaders,
		ExposeHeaders:    []string{RequestIDHeader, "X-Trace-ID"},
		AllowCredentials: !wildcard,
		MaxAge:           12 * time.Hour,
	}
	if wildcard {
		out.AllowAllOrigins = true
	} else {
		out.AllowOrigins = cfg.AllowedOrigins
	}
	return out
}
