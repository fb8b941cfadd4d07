package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"document-backend/internal/shared/storage/object"
)

// FilesRoute is the path prefix the API serves local objects under.
const FilesRoute = "/files/"

// Store keeps objects on the local filesystem under baseDir.
type Store struct {
	baseDir   string
	publicURL string
}

// New creates a store rooted at baseDir. publicURL, when set, is the absolute
// origin prefixed to object URLs.
func New(baseDir, publicURL string) *Store {
	return &Store{baseDir: baseDir, publicURL: strings.TrimRight(publicURL, "/")}
}

// Put writes r under key through a temp file and rename.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (object.Object, error) {
	if err := ctx.Err(); err != nil {
		return object.Object{}, err
	}
	fullPath, clean, err := s.resolve(key)
	if err != nil {
		return object.Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return object.Object{}, fmt.Errorf("mkdir: %w", err)
	}

	mimeType, body, err := object.Sniff(r)
	if err != nil {
		return object.Object{}, fmt.Errorf("read sniff: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return object.Object{}, fmt.Errorf("create temp: %w", err)
	}
	written, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return object.Object{}, fmt.Errorf("write body: %w", errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return object.Object{}, fmt.Errorf("rename: %w", err)
	}
	return object.Object{Key: clean, Size: written, MimeType: mimeType}, nil
}

// Open opens a stored object for reading.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, _, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, object.ErrNotFound
	}
	return f, err
}

// Delete removes key. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, _, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// URL points at the API route that streams the object.
func (s *Store) URL(_ context.Context, key string) (string, error) {
	clean, err := object.CleanKey(key)
	if err != nil {
		return "", err
	}
	segments := strings.Split(clean, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicURL + FilesRoute + strings.Join(segments, "/"), nil
}

// Path returns the filesystem location of key for direct serving.
func (s *Store) Path(key string) (string, error) {
	fullPath, _, err := s.resolve(key)
	return fullPath, err
}

func (s *Store) resolve(key string) (string, string, error) {
	clean, err := object.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), clean, nil
}

var _ object.Store = (*Store)(nil)
