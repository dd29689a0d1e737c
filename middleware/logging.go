package middleware

import (
	"net/http"
	"strconv"
	"time"

	"finance_backend/logger"
	"finance_backend/metrics"

	"github.com/gin-gonic/gin"
)

const slowRequestThreshold = time.Second

// RequestLogger counts every request and logs the slow and failed ones
func RequestLogger() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()

		switch {
		case status >= 500:
			log.Errorw("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path,
				"status", status, "latency", elapsed, "ip", c.ClientIP())
		case status >= 400:
			log.Warnw("Request rejected", "method", c.Request.Method, "path", c.Request.URL.Path,
				"status", status, "latency", elapsed, "ip", c.ClientIP())
		case elapsed > slowRequestThreshold:
			log.Warnw("Slow request", "method", c.Request.Method, "path", c.Request.URL.Path,
				"status", status, "latency", elapsed)
		}
	}
}

// Recovery turns handler panics into a 500 and logs them
func Recovery() gin.HandlerFunc {
	log := logger.Named("http")
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Errorf("Panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
	})
}
