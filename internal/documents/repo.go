package documents

import "context"

// Repo persists documents, their analysis row and the attempt log.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id string) (Document, error)
	GetForOwner(ctx context.Context, ownerID, id string) (Document, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error)
	Delete(ctx context.Context, ownerID, id string) (Document, error)
	ClearOwner(ctx context.Context, ownerID string) (int, error)

	// BeginAnalysis moves the document to PROCESSING and returns the new
	// generation. With supersede, a document already PROCESSING is taken over.
	BeginAnalysis(ctx context.Context, id string, supersede bool) (int64, error)
	// FinishAnalysis applies a terminal outcome atomically: status and
	// processed_at, the analysis upsert and the attempt log entry. It fails
	// with ErrStaleGeneration when the document has moved to a newer attempt.
	FinishAnalysis(ctx context.Context, o Outcome) error

	GetAnalysis(ctx context.Context, documentID string) (Analysis, error)
	ListAttempts(ctx context.Context, documentID string) ([]Attempt, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
