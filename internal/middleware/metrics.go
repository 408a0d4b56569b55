package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"product_radar/internal/metrics"
)

// Metrics 按路由模板记录请求数与耗时。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.RecordRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
