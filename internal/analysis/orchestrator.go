// Package analysis runs the text analysis of stored documents.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"document-backend/internal/documents"
	"document-backend/internal/extract"
	"document-backend/internal/llm"
	"document-backend/internal/shared/metrics"
	"document-backend/internal/shared/storage/object"
	"document-backend/internal/shared/telemetry"
)

const (
	DefaultPromptCharBudget    = 8000
	defaultFailureWriteTimeout = 10 * time.Second
	maxReasonLen               = 500
)

// Store is the slice of the document repository the orchestrator needs.
type Store interface {
	GetByID(ctx context.Context, id string) (documents.Document, error)
	BeginAnalysis(ctx context.Context, id string, supersede bool) (int64, error)
	FinishAnalysis(ctx context.Context, o documents.Outcome) error
}

// Extractor turns stored bytes into text.
type Extractor func(data []byte, filename string) (string, error)

// Config bounds one analysis run.
type Config struct {
	// PromptCharBudget is the maximum number of runes sent to the provider.
	PromptCharBudget int
	// FailureWriteTimeout bounds the FAILED write, which runs detached from
	// the caller's context.
	FailureWriteTimeout time.Duration
	// MaxDocumentBytes caps how much of the stored object is read. Zero means
	// no cap.
	MaxDocumentBytes int64
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store   Store
	Objects object.Store
	Extract Extractor
	Client  llm.Client
	Guard   Guard
}

// Orchestrator drives a document through PROCESSING to a terminal status.
type Orchestrator struct {
	cfg     Config
	store   Store
	objects object.Store
	extract Extractor
	client  llm.Client
	guard   Guard
	now     func() time.Time
}

// New constructs an Orchestrator. A nil Extract uses extract.Text and a nil
// Guard uses a MemoryGuard.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.PromptCharBudget <= 0 {
		cfg.PromptCharBudget = DefaultPromptCharBudget
	}
	if cfg.FailureWriteTimeout <= 0 {
		cfg.FailureWriteTimeout = defaultFailureWriteTimeout
	}
	if deps.Extract == nil {
		deps.Extract = extract.Text
	}
	if deps.Guard == nil {
		deps.Guard = NewMemoryGuard()
	}
	if deps.Client == nil {
		deps.Client = llm.Unconfigured{Provider: "none"}
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   deps.Store,
		objects: deps.Objects,
		extract: deps.Extract,
		client:  deps.Client,
		guard:   deps.Guard,
		now:     time.Now,
	}
}

// Analyze runs one analysis attempt for documentID. It returns nil once a
// terminal status is recorded (or the attempt was superseded), ErrInFlight
// for duplicate dispatches, and an error only when nothing could be recorded.
func (o *Orchestrator) Analyze(ctx context.Context, documentID string) error {
	return o.run(ctx, documentID, false)
}

// Supersede is Analyze that also takes over a document left PROCESSING by a
// run that no longer exists.
func (o *Orchestrator) Supersede(ctx context.Context, documentID string) error {
	return o.run(ctx, documentID, true)
}

// Reject records FAILED for a document whose analysis was never started.
func (o *Orchestrator) Reject(ctx context.Context, documentID string, cause error) error {
	doc, err := o.store.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	now := o.now().UTC()
	reason := "dispatch rejected"
	if cause != nil {
		reason += ": " + cause.Error()
	}
	return o.finish(telemetry.RequestID(ctx), doc, documents.Failed(doc.ID, doc.Generation, sanitizeReason(reason), now, now))
}

func (o *Orchestrator) run(ctx context.Context, documentID string, supersede bool) error {
	if !documents.ValidID(documentID) {
		telemetry.Info("analysis.skipped", map[string]any{"document_id": documentID, "reason": "malformed_id"})
		return nil
	}

	release, err := o.guard.Acquire(ctx, documentID)
	if errors.Is(err, ErrInFlight) {
		telemetry.Warn("analysis.duplicate", map[string]any{"document_id": documentID})
		return err
	}
	if err != nil {
		return o.abandon(ctx, documentID, fmt.Errorf("acquire lock: %w", err))
	}
	defer release()

	doc, err := o.store.GetByID(ctx, documentID)
	if errors.Is(err, documents.ErrNotFound) {
		telemetry.Info("analysis.skipped", map[string]any{"document_id": documentID, "reason": "not_found"})
		return nil
	}
	if err != nil {
		return o.abandon(ctx, documentID, fmt.Errorf("load document: %w", err))
	}

	startedAt := o.now().UTC()
	generation, err := o.store.BeginAnalysis(ctx, documentID, supersede)
	switch {
	case errors.Is(err, documents.ErrAlreadyProcessing):
		telemetry.Warn("analysis.duplicate", map[string]any{"document_id": documentID, "generation": doc.Generation})
		return ErrInFlight
	case errors.Is(err, documents.ErrNotFound):
		telemetry.Info("analysis.skipped", map[string]any{"document_id": documentID, "reason": "deleted"})
		return nil
	case err != nil:
		reason := sanitizeReason("unexpected error: start analysis: " + err.Error())
		return o.finish(telemetry.RequestID(ctx), doc, documents.Failed(doc.ID, doc.Generation, reason, startedAt, o.now().UTC()))
	}

	metrics.AnalysisStarted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        telemetry.RequestID(ctx),
		"user_id":           doc.OwnerID,
		"document_id":       doc.ID,
		"generation":        generation,
		"status":            documents.StatusProcessing,
		"status_transition": transition(doc.Status, documents.StatusProcessing),
	})
	doc.Status = documents.StatusProcessing
	doc.Generation = generation

	res, err := o.attempt(ctx, doc)
	finishedAt := o.now().UTC()
	if err != nil {
		return o.finish(telemetry.RequestID(ctx), doc, documents.Failed(doc.ID, generation, sanitizeReason(err.Error()), startedAt, finishedAt))
	}
	return o.finish(telemetry.RequestID(ctx), doc, documents.Completed(doc.ID, generation, res, startedAt, finishedAt))
}

// abandon records FAILED for an attempt that could not get going. The attempt
// still takes a generation so the store keeps fencing concurrent runs; a
// document already PROCESSING is left to the run that owns it. cause comes
// back only when nothing could be recorded.
func (o *Orchestrator) abandon(ctx context.Context, documentID string, cause error) error {
	telemetry.Error("analysis.start_failed", map[string]any{"document_id": documentID, "error": cause})
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FailureWriteTimeout)
	defer cancel()

	doc, err := o.store.GetByID(wctx, documentID)
	if errors.Is(err, documents.ErrNotFound) {
		telemetry.Info("analysis.skipped", map[string]any{"document_id": documentID, "reason": "not_found"})
		return nil
	}
	if err != nil {
		return cause
	}
	startedAt := o.now().UTC()
	generation, err := o.store.BeginAnalysis(wctx, documentID, false)
	switch {
	case errors.Is(err, documents.ErrAlreadyProcessing):
		telemetry.Warn("analysis.duplicate", map[string]any{"document_id": documentID, "generation": doc.Generation})
		return ErrInFlight
	case errors.Is(err, documents.ErrNotFound):
		telemetry.Info("analysis.skipped", map[string]any{"document_id": documentID, "reason": "deleted"})
		return nil
	case err != nil:
		return cause
	}

	metrics.AnalysisStarted()
	doc.Status = documents.StatusProcessing
	doc.Generation = generation
	reason := sanitizeReason("unexpected error: " + cause.Error())
	return o.finish(telemetry.RequestID(ctx), doc, documents.Failed(doc.ID, generation, reason, startedAt, o.now().UTC()))
}

// attempt reads, extracts and summarizes. Panics come back as errors.
func (o *Orchestrator) attempt(ctx context.Context, doc documents.Document) (res documents.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected error: panic: %v", r)
		}
	}()

	data, err := o.load(ctx, doc.StorageKey)
	if err != nil {
		return documents.Result{}, fmt.Errorf("text extraction failed: read stored file: %w", err)
	}
	text, err := o.extract(data, doc.OriginalFilename)
	if err != nil {
		return documents.Result{}, fmt.Errorf("text extraction failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return documents.Result{}, errors.New("text extraction failed: no extractable text")
	}

	out, err := o.client.Summarize(ctx, extract.Truncate(text, o.cfg.PromptCharBudget))
	if err != nil {
		return documents.Result{}, fmt.Errorf("analysis request failed: %w", err)
	}
	return normalizeResult(out), nil
}

func (o *Orchestrator) load(ctx context.Context, key string) ([]byte, error) {
	rc, err := o.objects.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if o.cfg.MaxDocumentBytes > 0 {
		return io.ReadAll(io.LimitReader(rc, o.cfg.MaxDocumentBytes))
	}
	return io.ReadAll(rc)
}

// finish writes the terminal outcome on a context detached from the caller so
// a cancelled request or shutdown still leaves the document terminal.
func (o *Orchestrator) finish(requestID string, doc documents.Document, out documents.Outcome) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.FailureWriteTimeout)
	defer cancel()

	err := o.store.FinishAnalysis(ctx, out)
	if err != nil && out.Kind == documents.OutcomeCompleted && !errors.Is(err, documents.ErrStaleGeneration) {
		// the result could not be persisted; record that instead
		telemetry.Error("analysis.persist_failed", map[string]any{
			"document_id": doc.ID,
			"generation":  out.Generation,
			"error":       err,
		})
		reason := sanitizeReason("unexpected error: persist result: " + err.Error())
		out = documents.Failed(out.DocumentID, out.Generation, reason, out.StartedAt, o.now().UTC())
		err = o.store.FinishAnalysis(ctx, out)
	}

	duration := out.FinishedAt.Sub(out.StartedAt)
	running := doc.Status == documents.StatusProcessing
	switch {
	case errors.Is(err, documents.ErrStaleGeneration):
		if running {
			metrics.AnalysisFinished("SUPERSEDED", duration)
		}
		telemetry.Info("analysis.superseded", map[string]any{
			"document_id": doc.ID,
			"generation":  out.Generation,
			"outcome":     out.Kind,
		})
		return nil
	case err != nil:
		if running {
			metrics.AnalysisFinished("ERROR", duration)
		}
		telemetry.Error("analysis.finish_failed", map[string]any{
			"document_id": doc.ID,
			"generation":  out.Generation,
			"outcome":     out.Kind,
			"error":       err,
		})
		return fmt.Errorf("record %s outcome: %w", out.Kind, err)
	}

	status := out.Status()
	if running {
		metrics.AnalysisFinished(string(status), duration)
	}
	fields := map[string]any{
		"request_id":        requestID,
		"user_id":           doc.OwnerID,
		"document_id":       doc.ID,
		"generation":        out.Generation,
		"status":            status,
		"status_transition": transition(doc.Status, status),
		"duration_ms":       float64(duration.Microseconds()) / 1000.0,
	}
	if out.Kind == documents.OutcomeFailed {
		fields["reason"] = out.Reason
		telemetry.Warn("analysis.status", fields)
	} else {
		telemetry.Info("analysis.status", fields)
	}
	return nil
}

func normalizeResult(r llm.Result) documents.Result {
	summary := strings.TrimSpace(r.Summary)
	if summary == "" {
		summary = llm.DefaultSummary
	}
	phrases := make([]string, 0, len(r.KeyPhrases))
	for _, p := range r.KeyPhrases {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	sentiment := llm.NormalizeSentiment(r.Sentiment)
	if sentiment == "" {
		sentiment = llm.DefaultSentiment
	}
	return documents.Result{Summary: summary, KeyPhrases: phrases, Sentiment: sentiment}
}

func transition(from, to documents.Status) string {
	return strings.ToLower(string(from)) + "->" + strings.ToLower(string(to))
}

// sanitizeReason keeps diagnostics on one line and bounded.
func sanitizeReason(msg string) string {
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.TrimSpace(msg)
	if len(msg) > maxReasonLen {
		cut := maxReasonLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}
