package util

import (
	"strings"
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "report.txt", want: "report.txt"},
		{in: "  notes.md ", want: "notes.md"},
		{in: `C:\Users\alice\notes.md`, want: "notes.md"},
		{in: "dir/sub/file.csv", want: "file.csv"},
		{in: "../etc/passwd", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeFileName(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("SanitizeFileName(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestSplitFileName(t *testing.T) {
	tests := []struct {
		in       string
		wantBase string
		wantExt  string
	}{
		{in: "hello.txt", wantBase: "hello", wantExt: ".txt"},
		{in: "Quarterly Report.PDF", wantBase: "Quarterly_Report", wantExt: ".pdf"},
		{in: "archive.tar.gz", wantBase: "archive.tar", wantExt: ".gz"},
		{in: "noext", wantBase: "noext", wantExt: ""},
		{in: ".env", wantBase: "file", wantExt: ".env"},
		{in: "weird.ex t", wantBase: "weird", wantExt: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			base, ext := SplitFileName(tt.in)
			if base != tt.wantBase || ext != tt.wantExt {
				t.Fatalf("SplitFileName(%q) = %q, %q; want %q, %q", tt.in, base, ext, tt.wantBase, tt.wantExt)
			}
		})
	}
}

func TestKeySegment(t *testing.T) {
	if got := KeySegment("guest:abc 123"); got != "guest_abc_123" {
		t.Fatalf("unexpected segment %q", got)
	}
	long := KeySegment(strings.Repeat("a", 200))
	if len(long) != maxSegmentLen {
		t.Fatalf("expected bounded segment, got %d chars", len(long))
	}
	if long != KeySegment(strings.Repeat("a", 200)) {
		t.Fatalf("expected stable segment")
	}
}
