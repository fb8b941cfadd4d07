package documents

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"document-backend/internal/shared/server/middleware"
	"document-backend/internal/shared/server/respond"
)

// multipart framing allowance on top of the file limit
const formOverhead = 1 << 20

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.upload)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
	rg.DELETE("/documents/:id", h.delete)
	rg.POST("/documents/:id/reanalyze", h.reanalyze)
	rg.GET("/documents/:id/attempts", h.attempts)
}

func (h *Handler) upload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if h.Svc.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Svc.MaxUploadBytes+formOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds the upload limit", gin.H{"limit_bytes": h.Svc.MaxUploadBytes})
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", gin.H{"field": "file"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", gin.H{"field": "file"})
		return
	}
	defer file.Close()

	doc, err := h.Svc.Submit(c.Request.Context(), userID, fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		h.writeError(c, err, "failed to upload document")
		return
	}

	c.Set(middleware.DocumentIDKey, doc.ID)
	respond.JSON(c, http.StatusCreated, h.response(c, doc))
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	limit := 0
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	docs, err := h.Svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(c, err, "failed to list documents")
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, h.response(c, doc))
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set(middleware.DocumentIDKey, id)

	doc, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), id)
	if err != nil {
		h.writeError(c, err, "failed to fetch document")
		return
	}
	respond.JSON(c, http.StatusOK, h.response(c, doc))
}

func (h *Handler) delete(c *gin.Context) {
	id := c.Param("id")
	c.Set(middleware.DocumentIDKey, id)

	if err := h.Svc.Delete(c.Request.Context(), middleware.UserIDFromContext(c), id); err != nil {
		h.writeError(c, err, "failed to delete document")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) reanalyze(c *gin.Context) {
	id := c.Param("id")
	c.Set(middleware.DocumentIDKey, id)

	doc, err := h.Svc.Reanalyze(c.Request.Context(), middleware.UserIDFromContext(c), id)
	if err != nil {
		h.writeError(c, err, "failed to queue analysis")
		return
	}
	respond.JSON(c, http.StatusAccepted, h.response(c, doc))
}

func (h *Handler) attempts(c *gin.Context) {
	id := c.Param("id")
	c.Set(middleware.DocumentIDKey, id)

	attempts, err := h.Svc.Attempts(c.Request.Context(), middleware.UserIDFromContext(c), id)
	if err != nil {
		h.writeError(c, err, "failed to list attempts")
		return
	}
	respond.JSON(c, http.StatusOK, toAttemptResponses(attempts))
}

func (h *Handler) response(c *gin.Context, doc Document) DocumentResponse {
	return toResponse(doc, absoluteURL(h.Svc.FileURL(c.Request.Context(), doc), requestScheme(c), c.Request.Host))
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	var fieldErr *FieldError
	switch {
	case errors.As(err, &fieldErr):
		respond.Error(c, http.StatusBadRequest, "validation_error", fieldErr.Reason, gin.H{"field": fieldErr.Field})
	case errors.Is(err, ErrValidation):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrPayloadTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds the upload limit", gin.H{"limit_bytes": h.Svc.MaxUploadBytes})
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrAlreadyProcessing):
		respond.Error(c, http.StatusConflict, "already_processing", "document is already being analyzed", nil)
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(c, http.StatusConflict, "invalid_state", "document cannot be analyzed in its current state", nil)
	case errors.Is(err, ErrDispatch):
		c.Header("Retry-After", "5")
		respond.Error(c, http.StatusServiceUnavailable, "dispatch_unavailable", "analysis queue is unavailable", nil)
	case errors.Is(err, ErrStorage):
		respond.Error(c, http.StatusInternalServerError, "storage_error", "failed to store file", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func requestScheme(c *gin.Context) string {
	if proto := strings.TrimSpace(strings.Split(c.GetHeader("X-Forwarded-Proto"), ",")[0]); proto != "" {
		return strings.ToLower(proto)
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}
