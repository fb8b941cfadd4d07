package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"document-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	DocumentIDKey       = "documentId"
	StatusTransitionKey = "statusTransition"
)

// Logging emits one structured line per completed request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"bytes_out":   c.Writer.Size(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"user_id":     UserIDFromContext(c),
			"is_guest":    IsGuest(c),
			"client_ip":   c.ClientIP(),
		}
		if id := c.GetString(DocumentIDKey); id != "" {
			fields["document_id"] = id
		}
		if transition := c.GetString(StatusTransitionKey); transition != "" {
			fields["status_transition"] = transition
		}
		telemetry.Info("request.complete", fields)
	}
}
