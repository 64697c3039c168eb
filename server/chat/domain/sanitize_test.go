package domain

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeEscapesMarkup(t *testing.T) {
	got := SanitizeMessage(`<script>alert("x")</script> & 'y'`, 500)
	want := "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt; &amp; &#39;y&#39;"
	if got != want {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	if got := SanitizeUsername("  al\x00i\x1bce\n ", 50); got != "alice" {
		t.Fatalf("username %q", got)
	}
	if got := SanitizeMessage("line one\nline\ttwo\r", 500); got != "line one\nlinetwo" {
		t.Fatalf("message %q", got)
	}
}

func TestSanitizeBoundsRunesBeforeEscaping(t *testing.T) {
	got := SanitizeUsername(strings.Repeat("ü", 60), MaxUsernameLen)
	if utf8.RuneCountInString(got) != MaxUsernameLen {
		t.Fatalf("rune count %d", utf8.RuneCountInString(got))
	}

	// 49 letters then '<': the escaped entity must not be truncated.
	got = SanitizeUsername(strings.Repeat("a", 49)+"<<<", MaxUsernameLen)
	if !strings.HasSuffix(got, "&lt;") || strings.Count(got, "&lt;") != 1 {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeWhitespaceOnly(t *testing.T) {
	if got := SanitizeMessage(" \t\n ", 500); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestValidRoomName(t *testing.T) {
	for _, name := range []string{"general", "help", "announcements", "room_2", "A-b"} {
		if !ValidRoomName(name) {
			t.Errorf("%q rejected", name)
		}
	}
	for _, name := range []string{"", "has space", "<b>", "naïve", strings.Repeat("x", 65)} {
		if ValidRoomName(name) {
			t.Errorf("%q accepted", name)
		}
	}
}
