package media

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"document-backend/internal/shared/server/middleware"
	"document-backend/internal/shared/server/respond"
)

const (
	msgNoFile   = "No file provided."
	msgTooLarge = "File size cannot exceed 25MB."
	msgAccepted = "File accepted and is being processed."
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches media routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/media", h.upload)
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Svc.MaxBytes+(1<<20))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Message(c, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		respond.Message(c, http.StatusBadRequest, msgNoFile)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Message(c, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()

	_, err = h.Svc.Upload(c.Request.Context(), middleware.UserIDFromContext(c), fileHeader.Filename, fileHeader.Size, file)
	switch {
	case err == nil:
		respond.JSON(c, http.StatusAccepted, gin.H{"message": msgAccepted})
	case errors.Is(err, ErrValidation):
		respond.Message(c, http.StatusBadRequest, msgNoFile)
	case errors.Is(err, ErrPayloadTooLarge):
		respond.Message(c, http.StatusRequestEntityTooLarge, msgTooLarge)
	default:
		respond.Message(c, http.StatusInternalServerError, "Failed to store file.")
	}
}
