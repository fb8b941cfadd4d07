package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"document-backend/internal/shared/auth"
	"document-backend/internal/shared/server/respond"
)

const (
	userIDKey   = "userId"
	userNameKey = "userName"
	isGuestKey  = "isGuest"
)

// AuthOptions configures the Auth middleware.
type AuthOptions struct {
	Verifier    *auth.Verifier
	AllowGuests bool
	// Public reports paths that skip identity checks.
	Public func(path string) bool
}

// Auth resolves the caller identity from a bearer token or, when guests are
// allowed, the X-Guest-Id header.
func Auth(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if opts.Public != nil && opts.Public(c.Request.URL.Path) {
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header != "" {
			token, ok := strings.CutPrefix(header, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" || opts.Verifier == nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			claims, err := opts.Verifier.Verify(token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			c.Set(userIDKey, claims.Sub)
			if claims.Name != "" {
				c.Set(userNameKey, claims.Name)
			}
			c.Set(isGuestKey, false)
			c.Next()
			return
		}

		guestID := strings.TrimSpace(c.GetHeader("X-Guest-Id"))
		if guestID == "" || !opts.AllowGuests {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
			return
		}
		c.Set(userIDKey, "guest:"+guestID)
		c.Set(isGuestKey, true)
		c.Next()
	}
}

// UserIDFromContext fetches the identity set by Auth.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(userIDKey)
}

// UserNameFromContext fetches the display name carried by the token, if any.
func UserNameFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(userNameKey)
}

// IsGuest reports whether the caller authenticated with X-Guest-Id.
func IsGuest(c *gin.Context) bool {
	if c == nil {
		return false
	}
	return c.GetBool(isGuestKey)
}
