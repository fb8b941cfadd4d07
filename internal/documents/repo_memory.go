package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryRecord struct {
	doc      Document
	analysis *Analysis
	attempts []Attempt
}

// MemoryRepo is an in-memory Repo for development and tests.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]*memoryRecord
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]*memoryRecord)}
}

func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[doc.ID]; exists {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	doc.Analysis = nil
	r.data[doc.ID] = &memoryRecord{doc: doc}
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.data[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return rec.view(), nil
}

func (r *MemoryRepo) GetForOwner(ctx context.Context, ownerID, id string) (Document, error) {
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.OwnerID == "" || doc.OwnerID != ownerID {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// ListByOwner returns documents newest first, honoring limit/offset.
func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)

	r.mu.RLock()
	docs := make([]Document, 0)
	for _, rec := range r.data {
		if ownerID != "" && rec.doc.OwnerID == ownerID {
			docs = append(docs, rec.view())
		}
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := min(offset+limit, len(docs))
	return docs[offset:end], nil
}

func (r *MemoryRepo) Delete(ctx context.Context, ownerID, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data[id]
	if !ok || rec.doc.OwnerID == "" || rec.doc.OwnerID != ownerID {
		return Document{}, ErrNotFound
	}
	doc := rec.view()
	delete(r.data, id)
	return doc, nil
}

func (r *MemoryRepo) ClearOwner(ctx context.Context, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ownerID == "" {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.data {
		if rec.doc.OwnerID == ownerID {
			rec.doc.OwnerID = ""
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) BeginAnalysis(ctx context.Context, id string, supersede bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data[id]
	if !ok {
		return 0, ErrNotFound
	}
	if err := checkBegin(rec.doc.Status, supersede); err != nil {
		return 0, err
	}
	rec.doc.Status = StatusProcessing
	rec.doc.Generation++
	rec.doc.ProcessedAt = nil
	return rec.doc.Generation, nil
}

func (r *MemoryRepo) FinishAnalysis(ctx context.Context, o Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data[o.DocumentID]
	if !ok {
		return ErrNotFound
	}
	if err := checkFinish(rec.doc.Status, rec.doc.Generation, o); err != nil {
		return err
	}

	finished := o.FinishedAt.UTC()
	rec.doc.Status = o.Status()
	rec.doc.ProcessedAt = &finished

	if rec.analysis == nil {
		rec.analysis = &Analysis{
			ID:         uuid.NewString(),
			DocumentID: o.DocumentID,
			KeyPhrases: []string{},
			CreatedAt:  finished,
		}
	}
	rec.analysis.UpdatedAt = finished
	if o.Kind == OutcomeCompleted {
		rec.analysis.Summary = o.Result.Summary
		rec.analysis.KeyPhrases = append([]string{}, o.Result.KeyPhrases...)
		rec.analysis.Sentiment = o.Result.Sentiment
	} else {
		rec.analysis.Summary = FailureSummary(o.Reason)
	}

	rec.attempts = append(rec.attempts, newAttempt(o))
	return nil
}

func (r *MemoryRepo) GetAnalysis(ctx context.Context, documentID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.data[documentID]
	if !ok || rec.analysis == nil {
		return Analysis{}, ErrNotFound
	}
	return copyAnalysis(*rec.analysis), nil
}

func (r *MemoryRepo) ListAttempts(ctx context.Context, documentID string) ([]Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.data[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Attempt{}, rec.attempts...), nil
}

func (rec *memoryRecord) view() Document {
	doc := rec.doc
	if rec.doc.ProcessedAt != nil {
		t := *rec.doc.ProcessedAt
		doc.ProcessedAt = &t
	}
	if rec.analysis != nil {
		a := copyAnalysis(*rec.analysis)
		doc.Analysis = &a
	}
	return doc
}

func copyAnalysis(a Analysis) Analysis {
	a.KeyPhrases = append([]string{}, a.KeyPhrases...)
	return a
}

// checkBegin is shared by both repos.
func checkBegin(current Status, supersede bool) error {
	if current == StatusProcessing {
		if supersede {
			return nil
		}
		return ErrAlreadyProcessing
	}
	if !CanTransition(current, StatusProcessing) {
		return ErrInvalidTransition
	}
	return nil
}

// checkFinish fences a terminal write on the attempt generation.
func checkFinish(current Status, generation int64, o Outcome) error {
	if o.Generation != generation {
		return ErrStaleGeneration
	}
	if !CanTransition(current, o.Status()) {
		if current.Terminal() {
			// this generation already finished
			return ErrStaleGeneration
		}
		return ErrInvalidTransition
	}
	return nil
}

func newAttempt(o Outcome) Attempt {
	a := Attempt{
		ID:         uuid.NewString(),
		DocumentID: o.DocumentID,
		Generation: o.Generation,
		Outcome:    o.Kind,
		StartedAt:  o.StartedAt.UTC(),
		FinishedAt: o.FinishedAt.UTC(),
	}
	if o.Kind == OutcomeFailed {
		a.Reason = o.Reason
	}
	return a
}

var _ Repo = (*MemoryRepo)(nil)
