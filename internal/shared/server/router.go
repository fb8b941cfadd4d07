package server

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"document-backend/internal/documents"
	"document-backend/internal/media"
	"document-backend/internal/services/health"
	"document-backend/internal/shared/auth"
	"document-backend/internal/shared/config"
	"document-backend/internal/shared/metrics"
	"document-backend/internal/shared/server/middleware"
	"document-backend/internal/shared/server/respond"
	"document-backend/internal/shared/storage/object"
	localstore "document-backend/internal/shared/storage/object/local"
	"document-backend/internal/shared/util"
)

const (
	apiPrefix    = "/api/v1"
	metricsRoute = "/metrics"

	rateGroupDefault = "DEFAULT"
	rateGroupPolling = "POLLING"
)

// RouterDeps carries the handlers and collaborators the router mounts.
type RouterDeps struct {
	Config          config.Config
	DocumentHandler *documents.Handler
	MediaHandler    *media.Handler
	Health          *health.Service
	Verifier        *auth.Verifier
	// Files is set when objects live on the local filesystem and must be
	// streamed by the API.
	Files *localstore.Store
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	cfg := deps.Config
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigins),
		middleware.Auth(middleware.AuthOptions{
			Verifier:    deps.Verifier,
			AllowGuests: cfg.Auth.AllowGuests,
			Public:      isPublicPath,
		}),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: rateGroupDefault,
			GroupFor:     rateGroupFor,
			Limiter:      middleware.NewRateLimiter(cfg.RateLimit.MaxKeys, nil),
			Rules: map[string]middleware.RateLimitRule{
				rateGroupDefault: {Rate: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst},
				// status polling is cheap and frequent
				rateGroupPolling: {Rate: cfg.RateLimit.RPS * 4, Burst: cfg.RateLimit.Burst * 2},
			},
		}),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	api := r.Group(apiPrefix)
	api.GET("/health", HealthHandler(healthSvc))
	registerMeRoutes(api)
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.MediaHandler != nil {
		deps.MediaHandler.RegisterRoutes(api)
	}

	if deps.Files != nil {
		r.GET(localstore.FilesRoute+"*key", serveFile(deps.Files))
	}
	r.GET(metricsRoute, metrics.Handler())

	return r
}

// HealthHandler reports {"ok": true}, or 503 with the failing checks.
func HealthHandler(svc *health.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, failures := svc.Status(c.Request.Context())
		if !ok {
			respond.JSON(c, http.StatusServiceUnavailable, gin.H{"ok": false, "checks": failures})
			return
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	}
}

func serveFile(store *localstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := object.CleanKey(strings.TrimPrefix(c.Param("key"), "/"))
		if err != nil || !canRead(key, middleware.UserIDFromContext(c)) {
			respond.Error(c, http.StatusNotFound, "not_found", "file not found", nil)
			return
		}
		path, err := store.Path(key)
		if err != nil {
			respond.Error(c, http.StatusNotFound, "not_found", "file not found", nil)
			return
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			respond.Error(c, http.StatusNotFound, "not_found", "file not found", nil)
			return
		}
		c.File(path)
	}
}

// canRead allows document objects to anyone and every other object, media
// included, only to the identity its first key segment names.
func canRead(key, userID string) bool {
	if strings.HasPrefix(key, documents.KeyRoot+"/") {
		return true
	}
	owner, _, ok := strings.Cut(key, "/")
	return ok && userID != "" && owner == util.KeySegment(userID)
}

func isPublicPath(path string) bool {
	switch {
	case path == apiPrefix+"/health", path == metricsRoute:
		return true
	case strings.HasPrefix(path, localstore.FilesRoute+documents.KeyRoot+"/"):
		// serveFile re-checks the cleaned key
		return true
	default:
		return false
	}
}

func rateGroupFor(c *gin.Context) string {
	if c.Request.Method != http.MethodGet {
		return rateGroupDefault
	}
	switch c.FullPath() {
	case apiPrefix + "/documents/:id", apiPrefix + "/documents/:id/attempts":
		return rateGroupPolling
	}
	return rateGroupDefault
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
