package util

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"strings"
	"unicode"
)

const maxSegmentLen = 64

// SanitizeFileName strips directories from name and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "\\", "/")
	s = path.Base(s)
	if s == "" || s == "." || s == "/" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// SplitFileName returns a storage-safe base name and the lowercased extension
// (with its dot) of name.
func SplitFileName(name string) (base, ext string) {
	clean := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	clean = path.Base(clean)
	ext = strings.ToLower(path.Ext(clean))
	if len(ext) > 16 || !isSafe(ext[min(1, len(ext)):]) {
		ext = ""
	}
	base = strings.TrimSuffix(clean, path.Ext(clean))
	base = KeySegment(base)
	if base == "" {
		base = "file"
	}
	return base, ext
}

// KeySegment maps s onto [A-Za-z0-9._-], collapsing everything else to '_'.
// Long values are replaced by a hash prefix so keys stay bounded.
func KeySegment(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if len(out) > maxSegmentLen {
		return out[:maxSegmentLen-17] + "-" + digest(s)
	}
	return out
}

// digest is the first 16 hex characters of the SHA-256 of s.
func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func isSafe(s string) bool {
	for _, r := range s {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
