package media

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"document-backend/internal/shared/metrics"
	"document-backend/internal/shared/storage/object"
	"document-backend/internal/shared/telemetry"
	"document-backend/internal/shared/util"
)

const (
	DefaultMaxBytes   = 25 << 20
	anonymousIdentity = "anonymous"
)

// secondClock hands out unix seconds that strictly increase within a process,
// so two uploads never share a key timestamp.
type secondClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (c *secondClock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().Unix()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Service stores media uploads.
type Service struct {
	Repo     Repo
	Store    object.Store
	MaxBytes int64

	clock *secondClock
}

func NewService(repo Repo, store object.Store, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Service{
		Repo:     repo,
		Store:    store,
		MaxBytes: maxBytes,
		clock:    &secondClock{now: time.Now},
	}
}

// Upload stores r under {identity}/{basename}-{ts}{ext} and records the row.
func (s *Service) Upload(ctx context.Context, ownerID, fileName string, size int64, r io.Reader) (Media, error) {
	if r == nil {
		return Media{}, ErrValidation
	}
	cleanName, err := util.SanitizeFileName(fileName)
	if err != nil {
		return Media{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if size > s.MaxBytes {
		metrics.IncUploadRejected("media", "too_large")
		return Media{}, ErrPayloadTooLarge
	}

	key := s.key(ownerID, cleanName)
	obj, err := s.Store.Put(ctx, key, io.LimitReader(r, s.MaxBytes+1))
	if err != nil {
		metrics.IncUploadRejected("media", "storage")
		return Media{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if obj.Size > s.MaxBytes {
		s.drop(obj.Key)
		metrics.IncUploadRejected("media", "too_large")
		return Media{}, ErrPayloadTooLarge
	}

	m := Media{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		OriginalFilename: cleanName,
		StorageKey:       obj.Key,
		SizeBytes:        obj.Size,
		UploadedAt:       time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, m); err != nil {
		s.drop(obj.Key)
		return Media{}, fmt.Errorf("create media: %w", err)
	}

	metrics.IncUpload("media")
	telemetry.Info("media.uploaded", map[string]any{
		"media_id":    m.ID,
		"user_id":     ownerID,
		"size_bytes":  m.SizeBytes,
		"storage_key": m.StorageKey,
	})
	return m, nil
}

func (s *Service) key(ownerID, fileName string) string {
	identity := util.KeySegment(ownerID)
	if identity == "" {
		identity = anonymousIdentity
	}
	base, ext := util.SplitFileName(fileName)
	return fmt.Sprintf("%s/%s-%d%s", identity, base, s.clock.next(), ext)
}

func (s *Service) drop(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Store.Delete(ctx, key); err != nil {
		telemetry.Warn("media.bytes_delete_failed", map[string]any{"storage_key": key, "error": err})
	}
}
