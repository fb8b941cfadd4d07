package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"document-backend/internal/shared/server/respond"
	"document-backend/internal/shared/telemetry"
)

// Recovery turns handler panics into a logged 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				fields := map[string]any{
					"request_id": RequestIDFromContext(c),
					"user_id":    UserIDFromContext(c),
					"error":      rec,
					"stack":      string(debug.Stack()),
					"path":       c.Request.URL.Path,
					"method":     c.Request.Method,
				}
				if id := c.GetString(DocumentIDKey); id != "" {
					fields["document_id"] = id
				}
				telemetry.Error("http.panic", fields)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
			}
		}()
		c.Next()
	}
}
