package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &logger{out: &buf, filePath: fileDisabled, format: logFormatText, minLevel: warnLevel}

	l.logf(infoLevel, "hidden %d", 1)
	l.logf(warnLevel, "shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "shown 2") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &logger{out: &buf, filePath: fileDisabled, format: logFormatJSON, minLevel: debugLevel}

	l.logf(errorLevel, "event=test status=%s", "failed")

	var payload map[string]string
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if payload["level"] != "ERROR" || payload["message"] != "event=test status=failed" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	var buf bytes.Buffer
	l := &logger{out: &buf, filePath: path, format: logFormatText, minLevel: debugLevel, maxSizeBytes: 64}

	for i := 0; i < 5; i++ {
		l.logf(infoLevel, "line %d with some padding to overflow", i)
	}
	if l.file != nil {
		_ = l.file.Close()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotated files, got %d", len(entries))
	}
}

func TestNextRotatedPathSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := filepath.Join(dir, "app_20260102_030405_1.log")
	if err := os.WriteFile(first, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := nextRotatedPath(filepath.Join(dir, "app.log"), now)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "app_20260102_030405_2.log" {
		t.Fatalf("got %s", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]level{"debug": debugLevel, "WARN": warnLevel, "error": errorLevel, "": infoLevel, "bogus": infoLevel}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}
