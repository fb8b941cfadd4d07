package documents

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a Document.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusUploading  Status = "UPLOADING"
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusUploading},
	StatusUploading:  {StatusUploaded},
	StatusUploaded:   {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether an analysis attempt has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is an uploaded file subject to text analysis.
type Document struct {
	ID               string
	OwnerID          string
	StorageKey       string
	OriginalFilename string
	SizeBytes        int64
	MimeType         string
	Status           Status
	// Generation is bumped on every entry into PROCESSING; terminal writes
	// carry the generation they started with.
	Generation  int64
	UploadedAt  time.Time
	ProcessedAt *time.Time
	Analysis    *Analysis
}

// Analysis is the single analysis row kept per document.
type Analysis struct {
	ID         string
	DocumentID string
	Summary    string
	KeyPhrases []string
	Sentiment  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OutcomeKind tags how an analysis attempt ended.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
)

// Result is the payload of a completed attempt.
type Result struct {
	Summary    string
	KeyPhrases []string
	Sentiment  string
}

// Outcome is the terminal write for one attempt. Exactly one of Result
// (completed) or Reason (failed) is meaningful.
type Outcome struct {
	DocumentID string
	Generation int64
	Kind       OutcomeKind
	Result     Result
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Completed builds a successful outcome.
func Completed(documentID string, generation int64, res Result, startedAt, finishedAt time.Time) Outcome {
	return Outcome{
		DocumentID: documentID,
		Generation: generation,
		Kind:       OutcomeCompleted,
		Result:     res,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
}

// Failed builds a failed outcome.
func Failed(documentID string, generation int64, reason string, startedAt, finishedAt time.Time) Outcome {
	return Outcome{
		DocumentID: documentID,
		Generation: generation,
		Kind:       OutcomeFailed,
		Reason:     reason,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
}

// Status is the document status this outcome moves to.
func (o Outcome) Status() Status {
	if o.Kind == OutcomeCompleted {
		return StatusCompleted
	}
	return StatusFailed
}

// FailureSummaryPrefix starts the summary stored for failed attempts.
const FailureSummaryPrefix = "Analysis Failed: "

// FailureSummary is the diagnostic summary stored for a failed attempt.
func FailureSummary(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	return FailureSummaryPrefix + reason
}

// Attempt is one entry of the per-document attempt log.
type Attempt struct {
	ID         string
	DocumentID string
	Generation int64
	Outcome    OutcomeKind
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}
