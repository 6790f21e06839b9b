package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestCounter receives one call per request and one per error response.
type RequestCounter interface {
	IncRequests()
	IncErrors()
}

// Logger returns a zap-based request logging middleware.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
		}
		if sub := c.GetString(ContextSubject); sub != "" {
			fields = append(fields, zap.String("operator", sub))
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}

// Count returns a middleware feeding request totals into counter.
func Count(counter RequestCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		counter.IncRequests()
		c.Next()
		if c.Writer.Status() >= 400 {
			counter.IncErrors()
		}
	}
}
