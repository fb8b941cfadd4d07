package media

import (
	"context"
	"database/sql"
	"sync"
)

// Repo persists media rows.
type Repo interface {
	Create(ctx context.Context, m Media) error
}

// MemoryRepo is an in-memory Repo for development and tests.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[string]Media
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[string]Media)}
}

func (r *MemoryRepo) Create(ctx context.Context, m Media) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[m.ID] = m
	return nil
}

// Get returns a stored row.
func (r *MemoryRepo) Get(id string) (Media, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	return m, ok
}

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Create(ctx context.Context, m Media) error {
	const query = `
INSERT INTO media (id, owner_id, original_filename, storage_key, size_bytes, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	owner := sql.NullString{String: m.OwnerID, Valid: m.OwnerID != ""}
	_, err := r.DB.ExecContext(ctx, query, m.ID, owner, m.OriginalFilename, m.StorageKey, m.SizeBytes, m.UploadedAt)
	return err
}

var (
	_ Repo = (*MemoryRepo)(nil)
	_ Repo = (*PGRepo)(nil)
)
