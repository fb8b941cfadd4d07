package dispatch

import (
	"errors"
	"testing"
)

func TestParseMessage(t *testing.T) {
	payload, err := EncodeMessage(Message{DocumentID: "doc-1", RequestID: "req-1", EnqueuedAt: "2026-01-30T22:00:00Z", Version: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, _, err := ParseMessage(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.DocumentID != "doc-1" || msg.RequestID != "req-1" || msg.Version != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}

	msg, _, err = ParseMessage([]byte(" doc-2 \n"))
	if err != nil || msg.DocumentID != "doc-2" {
		t.Fatalf("bare id: %+v %v", msg, err)
	}
}

func TestParseMessageErrors(t *testing.T) {
	if _, _, err := ParseMessage([]byte("  ")); !errors.As(err, &ErrEmptyBody{}) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}

	_, meta, err := ParseMessage([]byte("{not json"))
	var decodeErr ErrDecode
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if meta.BodyLen != 9 || len(meta.BodySHA) != 64 {
		t.Fatalf("unexpected meta %+v", meta)
	}

	_, _, err = ParseMessage([]byte(`{"requestId":"req-1"}`))
	var missing ErrMissingDocumentID
	if !errors.As(err, &missing) || missing.RequestID != "req-1" {
		t.Fatalf("expected ErrMissingDocumentID, got %v", err)
	}
}
