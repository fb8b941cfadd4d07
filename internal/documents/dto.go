package documents

import (
	"net/url"
	"strings"
	"time"
)

// AnalysisResponse is the outward-facing representation of an analysis.
type AnalysisResponse struct {
	ID         string    `json:"id"`
	Summary    string    `json:"summary"`
	KeyPhrases []string  `json:"key_phrases"`
	Sentiment  *string   `json:"sentiment"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	ID               string            `json:"id"`
	User             *string           `json:"user"`
	File             string            `json:"file"`
	OriginalFilename string            `json:"original_filename"`
	Filesize         int64             `json:"filesize"`
	Status           Status            `json:"status"`
	UploadedAt       time.Time         `json:"uploaded_at"`
	ProcessedAt      *time.Time        `json:"processed_at"`
	Analysis         *AnalysisResponse `json:"analysis"`
}

// AttemptResponse is one attempt log entry.
type AttemptResponse struct {
	ID         string      `json:"id"`
	Generation int64       `json:"generation"`
	Outcome    OutcomeKind `json:"outcome"`
	Reason     *string     `json:"reason"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toResponse(doc Document, fileURL string) DocumentResponse {
	resp := DocumentResponse{
		ID:               doc.ID,
		User:             optional(doc.OwnerID),
		File:             fileURL,
		OriginalFilename: doc.OriginalFilename,
		Filesize:         doc.SizeBytes,
		Status:           doc.Status,
		UploadedAt:       doc.UploadedAt,
		ProcessedAt:      doc.ProcessedAt,
	}
	if a := doc.Analysis; a != nil {
		phrases := a.KeyPhrases
		if phrases == nil {
			phrases = []string{}
		}
		resp.Analysis = &AnalysisResponse{
			ID:         a.ID,
			Summary:    a.Summary,
			KeyPhrases: phrases,
			Sentiment:  optional(a.Sentiment),
			CreatedAt:  a.CreatedAt,
		}
	}
	return resp
}

func toAttemptResponses(attempts []Attempt) []AttemptResponse {
	out := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, AttemptResponse{
			ID:         a.ID,
			Generation: a.Generation,
			Outcome:    a.Outcome,
			Reason:     optional(a.Reason),
			StartedAt:  a.StartedAt,
			FinishedAt: a.FinishedAt,
		})
	}
	return out
}

// absoluteURL resolves a store URL that is relative to the API host.
func absoluteURL(raw, scheme, host string) string {
	if raw == "" || host == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() {
		return raw
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return scheme + "://" + host + raw
}
