package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
)

// Metrics 返回 Prometheus 指标记录中间件
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// 模板路径, 避免高基数
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
