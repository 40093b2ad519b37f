package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vidserve/logging"
	"vidserve/metrics"
)

// RequestLogger logs every request and feeds the HTTP metrics. The
// route template keeps metric label cardinality bounded.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())

		logging.Infow("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", elapsed,
			"clientIp", c.ClientIP(),
		)
	}
}
