package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectDocument = `
SELECT d.id, d.owner_id, d.storage_key, d.original_filename, d.size_bytes, d.mime_type,
       d.status, d.generation, d.uploaded_at, d.processed_at,
       a.id, a.summary, a.key_phrases, a.sentiment, a.created_at, a.updated_at
FROM documents d
LEFT JOIN document_analyses a ON a.document_id = d.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc         Document
		owner       sql.NullString
		processedAt sql.NullTime
		analysisID  sql.NullString
		summary     sql.NullString
		phrases     []byte
		sentiment   sql.NullString
		createdAt   sql.NullTime
		updatedAt   sql.NullTime
	)
	if err := row.Scan(
		&doc.ID,
		&owner,
		&doc.StorageKey,
		&doc.OriginalFilename,
		&doc.SizeBytes,
		&doc.MimeType,
		&doc.Status,
		&doc.Generation,
		&doc.UploadedAt,
		&processedAt,
		&analysisID,
		&summary,
		&phrases,
		&sentiment,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Document{}, err
	}
	doc.OwnerID = owner.String
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	if analysisID.Valid {
		a := Analysis{
			ID:         analysisID.String,
			DocumentID: doc.ID,
			Summary:    summary.String,
			Sentiment:  sentiment.String,
			CreatedAt:  createdAt.Time,
			UpdatedAt:  updatedAt.Time,
		}
		keyPhrases, err := decodePhrases(phrases)
		if err != nil {
			return Document{}, err
		}
		a.KeyPhrases = keyPhrases
		doc.Analysis = &a
	}
	return doc, nil
}

func decodePhrases(raw []byte) ([]string, error) {
	out := []string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode key_phrases: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id,
    owner_id,
    storage_key,
    original_filename,
    size_bytes,
    mime_type,
    status,
    generation,
    uploaded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		nullString(doc.OwnerID),
		doc.StorageKey,
		doc.OriginalFilename,
		doc.SizeBytes,
		doc.MimeType,
		string(doc.Status),
		doc.Generation,
		doc.UploadedAt,
	)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (Document, error) {
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, selectDocument+`
WHERE d.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

func (r *PGRepo) GetForOwner(ctx context.Context, ownerID, id string) (Document, error) {
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, selectDocument+`
WHERE d.id = $1 AND d.owner_id = $2`, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// ListByOwner lists documents newest first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.DB.QueryContext(ctx, selectDocument+`
WHERE d.owner_id = $1
ORDER BY d.uploaded_at DESC, d.id DESC
LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Delete removes the document row; analysis and attempts cascade.
func (r *PGRepo) Delete(ctx context.Context, ownerID, id string) (Document, error) {
	const query = `
DELETE FROM documents
WHERE id = $1 AND owner_id = $2
RETURNING id, owner_id, storage_key, original_filename, size_bytes, mime_type, status, generation, uploaded_at, processed_at`

	var (
		doc         Document
		owner       sql.NullString
		processedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, id, ownerID).Scan(
		&doc.ID,
		&owner,
		&doc.StorageKey,
		&doc.OriginalFilename,
		&doc.SizeBytes,
		&doc.MimeType,
		&doc.Status,
		&doc.Generation,
		&doc.UploadedAt,
		&processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc.OwnerID = owner.String
	if processedAt.Valid {
		doc.ProcessedAt = &processedAt.Time
	}
	return doc, nil
}

// ClearOwner detaches every document from a removed identity.
func (r *PGRepo) ClearOwner(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, nil
	}
	res, err := r.DB.ExecContext(ctx, `
UPDATE documents SET owner_id = NULL WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func lockStatus(ctx context.Context, tx *sql.Tx, id string) (Status, int64, error) {
	var (
		status     Status
		generation int64
	)
	err := tx.QueryRowContext(ctx, `
SELECT status, generation FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&status, &generation)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, ErrNotFound
	}
	return status, generation, err
}

func (r *PGRepo) BeginAnalysis(ctx context.Context, id string, supersede bool) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	status, _, err := lockStatus(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if err := checkBegin(status, supersede); err != nil {
		return 0, err
	}

	var generation int64
	if err := tx.QueryRowContext(ctx, `
UPDATE documents
SET status = $2, generation = generation + 1, processed_at = NULL
WHERE id = $1
RETURNING generation`, id, string(StatusProcessing)).Scan(&generation); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return generation, nil
}

func (r *PGRepo) FinishAnalysis(ctx context.Context, o Outcome) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	status, generation, err := lockStatus(ctx, tx, o.DocumentID)
	if err != nil {
		return err
	}
	if err := checkFinish(status, generation, o); err != nil {
		return err
	}

	finished := o.FinishedAt.UTC()
	if _, err := tx.ExecContext(ctx, `
UPDATE documents SET status = $2, processed_at = $3 WHERE id = $1`,
		o.DocumentID, string(o.Status()), finished); err != nil {
		return err
	}

	if o.Kind == OutcomeCompleted {
		phrases, err := json.Marshal(nonNil(o.Result.KeyPhrases))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO document_analyses (id, document_id, summary, key_phrases, sentiment, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (document_id) DO UPDATE
SET summary = EXCLUDED.summary,
    key_phrases = EXCLUDED.key_phrases,
    sentiment = EXCLUDED.sentiment,
    updated_at = EXCLUDED.updated_at`,
			uuid.NewString(), o.DocumentID, o.Result.Summary, string(phrases), nullString(o.Result.Sentiment), finished); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO document_analyses (id, document_id, summary, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (document_id) DO UPDATE
SET summary = EXCLUDED.summary,
    updated_at = EXCLUDED.updated_at`,
			uuid.NewString(), o.DocumentID, FailureSummary(o.Reason), finished); err != nil {
			return err
		}
	}

	attempt := newAttempt(o)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO analysis_attempts (id, document_id, generation, outcome, reason, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		attempt.ID, attempt.DocumentID, attempt.Generation, string(attempt.Outcome),
		nullString(attempt.Reason), attempt.StartedAt, attempt.FinishedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PGRepo) GetAnalysis(ctx context.Context, documentID string) (Analysis, error) {
	const query = `
SELECT id, document_id, summary, key_phrases, sentiment, created_at, updated_at
FROM document_analyses
WHERE document_id = $1`
	var (
		a         Analysis
		summary   sql.NullString
		phrases   []byte
		sentiment sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, query, documentID).Scan(
		&a.ID, &a.DocumentID, &summary, &phrases, &sentiment, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	a.Summary = summary.String
	a.Sentiment = sentiment.String
	if a.KeyPhrases, err = decodePhrases(phrases); err != nil {
		return Analysis{}, err
	}
	return a, nil
}

// ListAttempts returns the attempt log oldest first.
func (r *PGRepo) ListAttempts(ctx context.Context, documentID string) ([]Attempt, error) {
	const query = `
SELECT id, document_id, generation, outcome, reason, started_at, finished_at
FROM analysis_attempts
WHERE document_id = $1
ORDER BY finished_at ASC, generation ASC`
	rows, err := r.DB.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Attempt{}
	for rows.Next() {
		var (
			a      Attempt
			reason sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Generation, &a.Outcome, &reason, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		a.Reason = reason.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Repo = (*PGRepo)(nil)
