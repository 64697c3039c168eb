package domain

import (
	"html"
	"strings"
	"unicode"
)

// Sanitize trims s, removes control characters, cuts it to maxRunes and then
// HTML-escapes it. Escaping runs last so an entity is never cut in half.
// Newlines survive only when keepNewlines is set.
func Sanitize(s string, maxRunes int, keepNewlines bool) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' && keepNewlines {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if maxRunes > 0 {
		if runes := []rune(s); len(runes) > maxRunes {
			s = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return html.EscapeString(s)
}

func SanitizeUsername(s string, maxRunes int) string {
	return Sanitize(s, maxRunes, false)
}

func SanitizeMessage(s string, maxRunes int) string {
	return Sanitize(s, maxRunes, true)
}
