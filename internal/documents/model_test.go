package documents

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusUploading, true},
		{StatusUploading, StatusUploaded, true},
		{StatusUploaded, StatusProcessing, true},
		{StatusUploaded, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusCompleted, StatusProcessing, true},
		{StatusFailed, StatusProcessing, true},
		{StatusPending, StatusProcessing, false},
		{StatusUploaded, StatusCompleted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusProcessing, StatusUploaded, false},
		{Status("ARCHIVED"), StatusProcessing, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusHelpers(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("expected COMPLETED and FAILED to be terminal")
	}
	if StatusProcessing.Terminal() {
		t.Fatalf("PROCESSING must not be terminal")
	}
	if Status("nope").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}

func TestFailureSummary(t *testing.T) {
	if got := FailureSummary("text extraction failed: bad"); got != "Analysis Failed: text extraction failed: bad" {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := FailureSummary("  "); got != "Analysis Failed: unknown error" {
		t.Fatalf("unexpected blank summary %q", got)
	}
}

func TestDocumentKey(t *testing.T) {
	now := time.Unix(1700000000, 0)

	got := documentKey("user-42", "My Report.TXT", now, "deadbeef")
	if got != "uploaded_documents/user-42/My_Report-1700000000-deadbeef.txt" {
		t.Fatalf("unexpected key %q", got)
	}

	got = documentKey("", "notes", now, "0badf00d")
	if got != "uploaded_documents/anonymous/notes-1700000000-0badf00d" {
		t.Fatalf("unexpected anonymous key %q", got)
	}

	if len(randomSuffix()) != 8 {
		t.Fatalf("expected 8 hex chars")
	}
}

func TestValidID(t *testing.T) {
	tests := map[string]bool{
		"6f1c2a1e-0000-4000-8000-000000000001":          true,
		"abc":                                           false,
		"":                                              false,
		"6f1c2a1e00004000800000000000000 1":             false,
		"{6f1c2a1e-0000-4000-8000-000000000001}":        false,
		"urn:uuid:6f1c2a1e-0000-4000-8000-000000000001": false,
		"6f1c2a1e-0000-4000-8000-00000000000g":          false,
	}
	for id, want := range tests {
		if got := ValidID(id); got != want {
			t.Fatalf("ValidID(%q) = %v, want %v", id, got, want)
		}
	}
}
