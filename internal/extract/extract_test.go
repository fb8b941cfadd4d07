package extract

import (
	"errors"
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		want     string
		wantErr  error
	}{
		{name: "plain", data: []byte("hello test"), filename: "hello.txt", want: "hello test"},
		{name: "uppercase ext", data: []byte("# Title"), filename: "README.MD", want: "# Title"},
		{name: "bom and crlf", data: append([]byte{0xEF, 0xBB, 0xBF}, []byte("a\r\nb\rc")...), filename: "x.csv", want: "a\nb\nc"},
		{name: "empty", data: nil, filename: "empty.txt", want: ""},
		{name: "pdf", data: []byte("%PDF-1.7"), filename: "report.pdf", wantErr: ErrUnsupportedFormat},
		{name: "docx", data: []byte("PK\x03\x04"), filename: "report.docx", wantErr: ErrUnsupportedFormat},
		{name: "no extension", data: []byte("hi"), filename: "README", wantErr: ErrUnsupportedFormat},
		{name: "invalid utf8", data: []byte{0xff, 0xfe, 0xfd}, filename: "bad.txt", wantErr: ErrInvalidEncoding},
		{name: "nul byte", data: []byte("a\x00b"), filename: "bin.log", wantErr: ErrInvalidEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Text(tt.data, tt.filename)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				var extractErr *Error
				if !errors.As(err, &extractErr) {
					t.Fatalf("expected *Error, got %T", err)
				}
				if extractErr.Filename != tt.filename {
					t.Fatalf("expected filename %q in error, got %q", tt.filename, extractErr.Filename)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnsupportedErrorMessage(t *testing.T) {
	_, err := Text([]byte("x"), "scan.pdf")
	if err == nil || !strings.Contains(err.Error(), "scan.pdf (pdf): unsupported format") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo wörld", 5); got != "héllo" {
		t.Fatalf("expected rune-aware cut, got %q", got)
	}
	if got := Truncate("short", 100); got != "short" {
		t.Fatalf("expected untouched, got %q", got)
	}
	if got := Truncate("keep", 0); got != "keep" {
		t.Fatalf("expected no limit, got %q", got)
	}
	long := strings.Repeat("a", 9000)
	if got := Truncate(long, 8000); len(got) != 8000 {
		t.Fatalf("expected 8000 chars, got %d", len(got))
	}
}

func TestSupported(t *testing.T) {
	if !Supported("notes.MARKDOWN") || Supported("notes.pdf") {
		t.Fatalf("unexpected Supported results")
	}
}
