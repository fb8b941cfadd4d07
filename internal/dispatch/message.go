package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const messageVersion = 1

// Message is the payload published for each document to analyze.
type Message struct {
	DocumentID string `json:"documentId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// MessageMeta captures details useful for logging undecodable payloads.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

func computeMeta(body []byte) MessageMeta {
	if len(body) == 0 {
		return MessageMeta{}
	}
	sum := sha256.Sum256(body)
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingDocumentID indicates a message without a document id.
type ErrMissingDocumentID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingDocumentID) Error() string { return "missing document id" }

// ParseMessage validates and decodes a payload. A bare document id (no JSON)
// is accepted as well.
func ParseMessage(body []byte) (Message, MessageMeta, error) {
	meta := computeMeta(body)
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Message{}, meta, ErrEmptyBody{Meta: meta}
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Message{DocumentID: trimmed}, meta, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	msg.DocumentID = strings.TrimSpace(msg.DocumentID)
	if msg.DocumentID == "" {
		return msg, meta, ErrMissingDocumentID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}
