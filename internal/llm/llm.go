// Package llm defines the provider-neutral document analysis client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultSummary   = "No summary generated."
	DefaultSentiment = "unknown"

	maxSentimentLen = 50
)

var (
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrTimeout           = errors.New("provider request timed out")
	ErrNotConfigured     = errors.New("provider not configured")
	ErrCircuitOpen       = errors.New("provider circuit open")
)

// Client summarizes document text through an external model.
type Client interface {
	Summarize(ctx context.Context, text string) (Result, error)
}

// Result is the structured analysis returned by a provider.
type Result struct {
	Summary    string   `json:"summary"`
	KeyPhrases []string `json:"key_phrases"`
	Sentiment  string   `json:"sentiment"`
}

// ClientError wraps every failure of a provider call.
type ClientError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// NewClientError wraps err for provider unless it already is a ClientError.
func NewClientError(provider string, err error) error {
	var ce *ClientError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &ClientError{Provider: provider, Err: err}
}

// ParseResult decodes a provider reply. Missing or blank fields fall back to
// defaults; anything that is not a JSON object with the expected field types
// is ErrMalformedResponse.
func ParseResult(raw []byte) (Result, error) {
	raw = stripCodeFence(bytes.TrimSpace(raw))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Result{}, fmt.Errorf("%w: reply is not a JSON object", ErrMalformedResponse)
	}

	res := Result{Summary: DefaultSummary, KeyPhrases: []string{}, Sentiment: DefaultSentiment}

	if v, ok := present(fields, "summary"); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return Result{}, fmt.Errorf("%w: summary is not a string", ErrMalformedResponse)
		}
		if s = strings.TrimSpace(s); s != "" {
			res.Summary = s
		}
	}

	if v, ok := present(fields, "key_phrases"); ok {
		var phrases []string
		if err := json.Unmarshal(v, &phrases); err != nil {
			return Result{}, fmt.Errorf("%w: key_phrases is not a list of strings", ErrMalformedResponse)
		}
		for _, p := range phrases {
			if p = strings.TrimSpace(p); p != "" {
				res.KeyPhrases = append(res.KeyPhrases, p)
			}
		}
	}

	if v, ok := present(fields, "sentiment"); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return Result{}, fmt.Errorf("%w: sentiment is not a string", ErrMalformedResponse)
		}
		res.Sentiment = NormalizeSentiment(s)
	}
	return res, nil
}

// NormalizeSentiment lowercases and bounds a sentiment label.
func NormalizeSentiment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultSentiment
	}
	if utf8.RuneCountInString(s) > maxSentimentLen {
		s = string([]rune(s)[:maxSentimentLen])
	}
	return s
}

func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

// stripCodeFence removes a ```json fence some models wrap replies in.
func stripCodeFence(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = bytes.TrimPrefix(raw, []byte("```"))
	if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	}
	raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
	return bytes.TrimSpace(raw)
}

// Unconfigured fails every call so a missing API key surfaces as a FAILED
// document instead of a startup crash.
type Unconfigured struct {
	Provider string
}

func (u Unconfigured) Summarize(context.Context, string) (Result, error) {
	provider := u.Provider
	if provider == "" {
		provider = "none"
	}
	return Result{}, &ClientError{Provider: provider, Err: ErrNotConfigured}
}
