// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"docqa-rag-api/internal/interfaces/http/dto"
	"docqa-rag-api/pkg/errors"
	"docqa-rag-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", rec),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				dto.AbortWithAppError(c, errors.ErrInternalError)
			}
		}()

		c.Next()
	}
}
