package server

import (
	"strings"
	"time"

	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing. Event streams
// are logged when they close, so their latency is the connection lifetime.
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"route":   c.FullPath(),
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if len(c.Errors) > 0 {
		fields["errors"] = c.Errors.String()
	}

	switch {
	case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
		utils.Debug("HTTP Request", fields)
	case c.Writer.Status() >= 500:
		utils.Warn("HTTP Request", fields)
	case strings.HasSuffix(c.FullPath(), "/events"):
		utils.Info("HTTP stream closed", fields)
	default:
		utils.Info("HTTP Request", fields)
	}
}
