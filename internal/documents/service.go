package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"document-backend/internal/shared/metrics"
	"document-backend/internal/shared/storage/object"
	"document-backend/internal/shared/telemetry"
	"document-backend/internal/shared/util"
)

// Dispatcher hands a stored document to the analysis workers. Enqueue must
// not wait for the analysis to run.
type Dispatcher interface {
	Enqueue(ctx context.Context, documentID string) error
}

// FailureRecorder marks a document FAILED when it could not be dispatched.
type FailureRecorder interface {
	Reject(ctx context.Context, documentID string, cause error) error
}

// Service contains business logic for documents.
type Service struct {
	Repo           Repo
	Store          object.Store
	Dispatcher     Dispatcher
	Failures       FailureRecorder
	MaxUploadBytes int64

	now        func() time.Time
	randSuffix func() string
}

// NewService constructs a Service. Dispatcher and Failures may be set later,
// before the first Submit.
func NewService(repo Repo, store object.Store, maxUploadBytes int64) *Service {
	return &Service{
		Repo:           repo,
		Store:          store,
		MaxUploadBytes: maxUploadBytes,
		now:            time.Now,
		randSuffix:     randomSuffix,
	}
}

// Submit stores an upload, records it as UPLOADED and queues its analysis.
// size is the declared length; a negative value means unknown.
func (s *Service) Submit(ctx context.Context, ownerID, fileName string, size int64, r io.Reader) (Document, error) {
	if r == nil {
		return Document{}, &FieldError{Field: "file", Reason: "file is required"}
	}
	cleanName, err := util.SanitizeFileName(fileName)
	if err != nil || strings.TrimSpace(cleanName) == "" {
		return Document{}, &FieldError{Field: "file", Reason: "file name is required"}
	}
	if s.MaxUploadBytes > 0 && size > s.MaxUploadBytes {
		metrics.IncUploadRejected("document", "too_large")
		return Document{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, size, s.MaxUploadBytes)
	}

	now := s.clock().UTC()
	key := documentKey(ownerID, cleanName, now, s.suffix())

	body := r
	if s.MaxUploadBytes > 0 {
		body = io.LimitReader(r, s.MaxUploadBytes+1)
	}
	obj, err := s.Store.Put(ctx, key, body)
	if err != nil {
		metrics.IncUploadRejected("document", "storage")
		return Document{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if s.MaxUploadBytes > 0 && obj.Size > s.MaxUploadBytes {
		s.dropObject(obj.Key, "oversized")
		metrics.IncUploadRejected("document", "too_large")
		return Document{}, fmt.Errorf("%w: body exceeds %d bytes", ErrPayloadTooLarge, s.MaxUploadBytes)
	}

	doc := Document{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		StorageKey:       obj.Key,
		OriginalFilename: cleanName,
		SizeBytes:        obj.Size,
		MimeType:         obj.MimeType,
		Status:           StatusUploaded,
		UploadedAt:       now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		s.dropObject(obj.Key, "create_failed")
		return Document{}, fmt.Errorf("create document: %w", err)
	}

	metrics.IncUpload("document")
	telemetry.Info("document.uploaded", map[string]any{
		"document_id": doc.ID,
		"user_id":     ownerID,
		"size_bytes":  doc.SizeBytes,
		"mime_type":   doc.MimeType,
	})

	if err := s.dispatch(ctx, doc.ID); err != nil {
		telemetry.Warn("dispatch.rejected", map[string]any{
			"document_id": doc.ID,
			"error":       err,
		})
		if s.Failures != nil {
			if rerr := s.Failures.Reject(ctx, doc.ID, err); rerr != nil {
				telemetry.Error("dispatch.reject_failed", map[string]any{
					"document_id": doc.ID,
					"error":       rerr,
				})
			}
		}
		if refreshed, gerr := s.Repo.GetByID(ctx, doc.ID); gerr == nil {
			return refreshed, nil
		}
	}
	return doc, nil
}

// List returns the caller's documents newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if ownerID == "" {
		return nil, &FieldError{Field: "user", Reason: "identity required"}
	}
	return s.Repo.ListByOwner(ctx, ownerID, limit, offset)
}

// Get returns one of the caller's documents with its analysis.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Document, error) {
	if ownerID == "" || !ValidID(id) {
		return Document{}, ErrNotFound
	}
	return s.Repo.GetForOwner(ctx, ownerID, id)
}

// Delete removes the row, then the stored bytes. Byte removal is best effort.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" || !ValidID(id) {
		return ErrNotFound
	}
	doc, err := s.Repo.Delete(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, doc.StorageKey); err != nil {
		telemetry.Warn("document.bytes_delete_failed", map[string]any{
			"document_id": doc.ID,
			"storage_key": doc.StorageKey,
			"error":       err,
		})
	}
	telemetry.Info("document.deleted", map[string]any{"document_id": doc.ID, "user_id": ownerID})
	return nil
}

// Reanalyze queues another analysis of a finished document.
func (s *Service) Reanalyze(ctx context.Context, ownerID, id string) (Document, error) {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status == StatusProcessing {
		return Document{}, ErrAlreadyProcessing
	}
	if !CanTransition(doc.Status, StatusProcessing) {
		return Document{}, ErrInvalidTransition
	}
	if err := s.dispatch(ctx, doc.ID); err != nil {
		telemetry.Warn("dispatch.rejected", map[string]any{
			"document_id": doc.ID,
			"error":       err,
			"reanalyze":   true,
		})
		return Document{}, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return doc, nil
}

// Attempts returns the attempt log of one of the caller's documents.
func (s *Service) Attempts(ctx context.Context, ownerID, id string) ([]Attempt, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.Repo.ListAttempts(ctx, id)
}

// ForgetOwner detaches all documents from a removed identity.
func (s *Service) ForgetOwner(ctx context.Context, ownerID string) (int, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, &FieldError{Field: "user", Reason: "identity required"}
	}
	return s.Repo.ClearOwner(ctx, ownerID)
}

// FileURL returns where clients can fetch the stored bytes.
func (s *Service) FileURL(ctx context.Context, doc Document) string {
	u, err := s.Store.URL(ctx, doc.StorageKey)
	if err != nil {
		return ""
	}
	return u
}

func (s *Service) dispatch(ctx context.Context, id string) error {
	if s.Dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	return s.Dispatcher.Enqueue(ctx, id)
}

func (s *Service) dropObject(key, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Store.Delete(ctx, key); err != nil {
		telemetry.Warn("document.bytes_delete_failed", map[string]any{
			"storage_key": key,
			"reason":      reason,
			"error":       err,
		})
	}
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Service) suffix() string {
	if s.randSuffix == nil {
		return randomSuffix()
	}
	return s.randSuffix()
}
