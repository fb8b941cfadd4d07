// Package extract turns stored document bytes into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrInvalidEncoding   = errors.New("invalid text encoding")
)

// Error reports why a file could not be turned into text.
type Error struct {
	Filename string
	Format   string
	Err      error
}

func (e *Error) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("%s: %v", e.Filename, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Filename, e.Format, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var plainText = map[string]struct{}{
	".txt":      {},
	".text":     {},
	".md":       {},
	".markdown": {},
	".csv":      {},
	".log":      {},
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Supported reports whether filename has an extension Text can decode.
func Supported(filename string) bool {
	_, ok := plainText[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Text decodes data according to the extension of filename. An empty result
// is not an error here; callers decide what empty text means.
func Text(data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := plainText[ext]; !ok {
		return "", &Error{Filename: filename, Format: strings.TrimPrefix(ext, "."), Err: ErrUnsupportedFormat}
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", &Error{Filename: filename, Format: "text", Err: ErrInvalidEncoding}
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", &Error{Filename: filename, Format: "text", Err: fmt.Errorf("%w: contains NUL bytes", ErrInvalidEncoding)}
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n"), nil
}

// Truncate returns at most limit runes of text. A non-positive limit keeps everything.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i]
		}
		n++
	}
	return text
}
