package domain

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	CodeLength         = 4
	DefaultRetention   = 24 * time.Hour
	maxDisplayNameRune = 255
	fallbackName       = "file"
)

// FileRecord is the metadata behind one share code. It is never mutated after Issue.
type FileRecord struct {
	Code        string    `json:"code"`
	StorageRef  string    `json:"storage_ref"`
	DisplayName string    `json:"display_name"`
	SizeBytes   int64     `json:"size_bytes"`
	MimeType    string    `json:"mime_type"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// FileMeta is what a caller knows about an upload before a code exists.
type FileMeta struct {
	StorageRef  string
	DisplayName string
	SizeBytes   int64
	MimeType    string
	Checksum    string
}

func (r FileRecord) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r FileRecord) IsImage() bool {
	return strings.HasPrefix(r.MimeType, "image/")
}

// ValidCode reports whether code is exactly four ASCII digits.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// CleanDisplayName reduces a client supplied filename to a safe base name for
// Content-Disposition. It never returns an empty string.
func CleanDisplayName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallbackName
	}
	if utf8.RuneCountInString(name) > maxDisplayNameRune {
		runes := []rune(name)
		ext := filepath.Ext(name)
		if n := utf8.RuneCountInString(ext); n < maxDisplayNameRune/2 {
			name = string(runes[:maxDisplayNameRune-n]) + ext
		} else {
			name = string(runes[:maxDisplayNameRune])
		}
	}
	return name
}
