package documents

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"document-backend/internal/shared/storage/object"
	"document-backend/internal/shared/storage/object/local"
)

type fakeDispatcher struct {
	err error
	ids []string
}

func (d *fakeDispatcher) Enqueue(_ context.Context, id string) error {
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

// repoFailures records dispatch rejections the way the analysis orchestrator does.
type repoFailures struct {
	repo Repo
}

func (f repoFailures) Reject(ctx context.Context, id string, cause error) error {
	doc, err := f.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	return f.repo.FinishAnalysis(ctx, Failed(id, doc.Generation, "dispatch rejected: "+cause.Error(), now, now))
}

type failingStore struct {
	object.Store
	putErr error
}

func (s failingStore) Put(context.Context, string, io.Reader) (object.Object, error) {
	return object.Object{}, s.putErr
}

type failingRepo struct {
	*MemoryRepo
}

func (failingRepo) Create(context.Context, Document) error {
	return errors.New("db down")
}

func newTestService(t *testing.T, max int64) (*Service, *fakeDispatcher, string) {
	t.Helper()
	dir := t.TempDir()
	repo := NewMemoryRepo()
	svc := NewService(repo, local.New(dir, ""), max)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	svc.randSuffix = func() string { return "deadbeef" }
	d := &fakeDispatcher{}
	svc.Dispatcher = d
	svc.Failures = repoFailures{repo: repo}
	return svc, d, dir
}

func TestSubmitStoresAndDispatches(t *testing.T) {
	svc, d, dir := newTestService(t, 1<<20)

	doc, err := svc.Submit(context.Background(), "user-1", "notes.txt", 11, strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if doc.Status != StatusUploaded || doc.Analysis != nil {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.StorageKey != "uploaded_documents/user-1/notes-1700000000-deadbeef.txt" {
		t.Fatalf("unexpected key %q", doc.StorageKey)
	}
	if doc.SizeBytes != 11 || doc.OriginalFilename != "notes.txt" {
		t.Fatalf("unexpected metadata %+v", doc)
	}
	if len(d.ids) != 1 || d.ids[0] != doc.ID {
		t.Fatalf("expected document to be dispatched, got %v", d.ids)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(doc.StorageKey)))
	if err != nil || string(data) != "hello world" {
		t.Fatalf("stored bytes: %q %v", data, err)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService(t, 1<<20)

	_, err := svc.Submit(context.Background(), "user-1", "", 1, strings.NewReader("x"))
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "file" || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected file validation error, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), "user-1", "a.txt", 0, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing reader, got %v", err)
	}
}

func TestSubmitRejectsDeclaredOversize(t *testing.T) {
	svc, d, dir := newTestService(t, 4)

	_, err := svc.Submit(context.Background(), "user-1", "big.txt", 5, strings.NewReader("12345"))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 || len(d.ids) != 0 {
		t.Fatalf("store must not be touched, found %d entries", len(entries))
	}
}

func TestSubmitRejectsStreamedOversizeAndDropsBytes(t *testing.T) {
	svc, _, dir := newTestService(t, 4)

	_, err := svc.Submit(context.Background(), "user-1", "liar.txt", 2, bytes.NewReader([]byte("123456789")))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	path := filepath.Join(dir, "uploaded_documents", "user-1", "liar-1700000000-deadbeef.txt")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected oversized object to be removed, stat err=%v", err)
	}
}

func TestSubmitStorageFailureCreatesNoRow(t *testing.T) {
	svc, _, _ := newTestService(t, 1<<20)
	svc.Store = failingStore{Store: svc.Store, putErr: errors.New("disk full")}

	_, err := svc.Submit(context.Background(), "user-1", "a.txt", 1, strings.NewReader("x"))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	docs, _ := svc.Repo.ListByOwner(context.Background(), "user-1", 0, 0)
	if len(docs) != 0 {
		t.Fatalf("expected no rows, got %d", len(docs))
	}
}

func TestSubmitRowFailureDropsBytes(t *testing.T) {
	svc, _, dir := newTestService(t, 1<<20)
	svc.Repo = failingRepo{MemoryRepo: NewMemoryRepo()}

	if _, err := svc.Submit(context.Background(), "user-1", "a.txt", 1, strings.NewReader("x")); err == nil {
		t.Fatalf("expected create error")
	}
	path := filepath.Join(dir, "uploaded_documents", "user-1", "a-1700000000-deadbeef.txt")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected orphaned object to be removed, stat err=%v", err)
	}
}

func TestSubmitDispatchRejectedRecordsFailure(t *testing.T) {
	svc, d, _ := newTestService(t, 1<<20)
	d.err = errors.New("queue full")

	doc, err := svc.Submit(context.Background(), "user-1", "a.txt", 1, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Submit must succeed when dispatch is rejected: %v", err)
	}
	if doc.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", doc.Status)
	}
	if doc.Analysis == nil || !strings.HasPrefix(doc.Analysis.Summary, FailureSummaryPrefix) {
		t.Fatalf("expected diagnostic summary, got %+v", doc.Analysis)
	}
}

func TestReanalyzeRules(t *testing.T) {
	ctx := context.Background()
	svc, d, _ := newTestService(t, 1<<20)

	doc, err := svc.Submit(ctx, "user-1", "a.txt", 1, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	gen, _ := svc.Repo.BeginAnalysis(ctx, doc.ID, false)
	if _, err := svc.Reanalyze(ctx, "user-1", doc.ID); !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}

	now := time.Now()
	if err := svc.Repo.FinishAnalysis(ctx, Completed(doc.ID, gen, Result{Summary: "s"}, now, now)); err != nil {
		t.Fatalf("FinishAnalysis: %v", err)
	}
	if _, err := svc.Reanalyze(ctx, "user-1", doc.ID); err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}
	if len(d.ids) != 2 {
		t.Fatalf("expected a second dispatch, got %v", d.ids)
	}

	d.err = errors.New("nats down")
	if _, err := svc.Reanalyze(ctx, "user-1", doc.ID); !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
	if _, err := svc.Reanalyze(ctx, "user-2", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestDeleteRemovesRowAndBytes(t *testing.T) {
	ctx := context.Background()
	svc, _, dir := newTestService(t, 1<<20)

	doc, err := svc.Submit(ctx, "user-1", "a.txt", 1, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.Delete(ctx, "user-2", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, "user-1", doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, "user-1", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected row to be gone, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(doc.StorageKey))); !os.IsNotExist(err) {
		t.Fatalf("expected bytes to be gone, stat err=%v", err)
	}
}

func TestFileURLUsesStore(t *testing.T) {
	svc, _, _ := newTestService(t, 1<<20)
	got := svc.FileURL(context.Background(), Document{StorageKey: "uploaded_documents/u/a b.txt"})
	if got != "/files/uploaded_documents/u/a%20b.txt" {
		t.Fatalf("unexpected url %q", got)
	}
}
