package documents

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var documentColumns = []string{
	"id", "owner_id", "storage_key", "original_filename", "size_bytes", "mime_type",
	"status", "generation", "uploaded_at", "processed_at",
	"a_id", "summary", "key_phrases", "sentiment", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreateStoresNullOwnerForAnonymous(t *testing.T) {
	repo, mock := newMockRepo(t)
	doc := Document{
		ID:               "doc-1",
		StorageKey:       "uploaded_documents/anonymous/a-1-deadbeef.txt",
		OriginalFilename: "a.txt",
		SizeBytes:        5,
		MimeType:         "text/plain",
		Status:           StatusUploaded,
		UploadedAt:       time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.ID, nil, doc.StorageKey, doc.OriginalFilename, doc.SizeBytes, doc.MimeType, "UPLOADED", int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), doc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetForOwnerJoinsAnalysis(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(documentColumns).AddRow(
		"doc-1", "user-1", "key", "a.txt", int64(5), "text/plain",
		"COMPLETED", int64(2), now, now,
		"analysis-1", "Summary.", []byte(`["alpha","beta"]`), "neutral", now, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE d.id = $1 AND d.owner_id = $2")).
		WithArgs("doc-1", "user-1").
		WillReturnRows(rows)

	doc, err := repo.GetForOwner(context.Background(), "user-1", "doc-1")
	if err != nil {
		t.Fatalf("GetForOwner: %v", err)
	}
	if doc.Status != StatusCompleted || doc.Generation != 2 || doc.ProcessedAt == nil {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Analysis == nil || len(doc.Analysis.KeyPhrases) != 2 || doc.Analysis.Sentiment != "neutral" {
		t.Fatalf("unexpected analysis %+v", doc.Analysis)
	}
}

func TestPGRepoGetByIDWithoutAnalysis(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(documentColumns).AddRow(
		"doc-1", nil, "key", "a.txt", int64(5), "text/plain",
		"UPLOADED", int64(0), now, nil,
		nil, nil, nil, nil, nil, nil,
	)
	mock.ExpectQuery("FROM documents d").WithArgs("doc-1").WillReturnRows(rows)

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if doc.Analysis != nil || doc.OwnerID != "" || doc.ProcessedAt != nil {
		t.Fatalf("expected bare document, got %+v", doc)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM documents d").WithArgs("missing").WillReturnRows(sqlmock.NewRows(documentColumns))

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoListByOwnerClampsPage(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("ORDER BY d.uploaded_at DESC").
		WithArgs("user-1", 100, 0).
		WillReturnRows(sqlmock.NewRows(documentColumns))

	docs, err := repo.ListByOwner(context.Background(), "user-1", 500, -3)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", docs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoBeginAnalysisBumpsGeneration(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, generation FROM documents WHERE id = $1 FOR UPDATE")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "generation"}).AddRow("COMPLETED", int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta("SET status = $2, generation = generation + 1, processed_at = NULL")).
		WithArgs("doc-1", "PROCESSING").
		WillReturnRows(sqlmock.NewRows([]string{"generation"}).AddRow(int64(3)))
	mock.ExpectCommit()

	gen, err := repo.BeginAnalysis(context.Background(), "doc-1", false)
	if err != nil {
		t.Fatalf("BeginAnalysis: %v", err)
	}
	if gen != 3 {
		t.Fatalf("expected generation 3, got %d", gen)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoBeginAnalysisAlreadyProcessing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "generation"}).AddRow("PROCESSING", int64(1)))
	mock.ExpectRollback()

	if _, err := repo.BeginAnalysis(context.Background(), "doc-1", false); !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFinishAnalysisCompletedWritesAllRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	outcome := Completed("doc-1", 4, Result{Summary: "Sum.", KeyPhrases: []string{"a", "b"}, Sentiment: "positive"}, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "generation"}).AddRow("PROCESSING", int64(4)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET status = $2, processed_at = $3")).
		WithArgs("doc-1", "COMPLETED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (document_id) DO UPDATE")).
		WithArgs(sqlmock.AnyArg(), "doc-1", "Sum.", `["a","b"]`, "positive", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO analysis_attempts").
		WithArgs(sqlmock.AnyArg(), "doc-1", int64(4), "completed", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.FinishAnalysis(context.Background(), outcome); err != nil {
		t.Fatalf("FinishAnalysis: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFinishAnalysisFailedOnlyTouchesSummary(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	outcome := Failed("doc-1", 1, "text extraction failed: no extractable text", now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "generation"}).AddRow("PROCESSING", int64(1)))
	mock.ExpectExec("UPDATE documents SET status").
		WithArgs("doc-1", "FAILED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET summary = EXCLUDED.summary,\n    updated_at = EXCLUDED.updated_at")).
		WithArgs(sqlmock.AnyArg(), "doc-1", "Analysis Failed: text extraction failed: no extractable text", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO analysis_attempts").
		WithArgs(sqlmock.AnyArg(), "doc-1", int64(1), "failed", "text extraction failed: no extractable text", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.FinishAnalysis(context.Background(), outcome); err != nil {
		t.Fatalf("FinishAnalysis: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFinishAnalysisRejectsStaleGeneration(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "generation"}).AddRow("PROCESSING", int64(5)))
	mock.ExpectRollback()

	err := repo.FinishAnalysis(context.Background(), Completed("doc-1", 4, Result{}, now, now))
	if !errors.Is(err, ErrStaleGeneration) {
		t.Fatalf("expected ErrStaleGeneration, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoDeleteReturnsRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM documents")).
		WithArgs("doc-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "storage_key", "original_filename", "size_bytes", "mime_type", "status", "generation", "uploaded_at", "processed_at",
		}).AddRow("doc-1", "user-1", "key.txt", "a.txt", int64(5), "text/plain", "FAILED", int64(1), now, now))

	doc, err := repo.Delete(context.Background(), "user-1", "doc-1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if doc.StorageKey != "key.txt" {
		t.Fatalf("unexpected storage key %q", doc.StorageKey)
	}
}

func TestPGRepoClearOwner(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET owner_id = NULL WHERE owner_id = $1")).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ClearOwner(context.Background(), "user-1")
	if err != nil || n != 3 {
		t.Fatalf("ClearOwner: n=%d err=%v", n, err)
	}
}

func TestPGRepoListAttemptsOldestFirst(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	mock.ExpectQuery("ORDER BY finished_at ASC").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "generation", "outcome", "reason", "started_at", "finished_at"}).
			AddRow("att-1", "doc-1", int64(1), "failed", "provider timeout", now, now).
			AddRow("att-2", "doc-1", int64(2), "completed", nil, now, now.Add(time.Second)))

	attempts, err := repo.ListAttempts(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 2 || attempts[0].Reason != "provider timeout" || attempts[1].Outcome != OutcomeCompleted {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
}
