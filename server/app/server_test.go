package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	commonlog "akashshare/server/common/log"
	"akashshare/server/common/transport/httpresp"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	commonlog.DisableFile()
	commonlog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := LoadConfig()
	cfg.UploadDir = filepath.Join(t.TempDir(), "uploads")
	cfg.BlobBackend = BlobDisk
	cfg.RecordStore = RecordsMemory
	cfg.RedisAddr = ""
	cfg.UseMQ = false
	return cfg
}

func startServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.HTTPServer.Handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Chat.Shutdown(ctx)
		ts.Close()
		_ = s.Shutdown(ctx)
	})
	return s, ts
}

func upload(t *testing.T, baseURL, name string, content []byte) httpresp.UploadResponse {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(content)
	_ = mw.Close()

	resp, err := http.Post(baseURL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, raw)
	}
	var out httpresp.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE_MB", "")
	t.Setenv("SHARE_RETENTION_SECONDS", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	cfg := LoadConfig()
	if cfg.MaxFileBytes() != 10<<20 {
		t.Fatalf("max bytes %d", cfg.MaxFileBytes())
	}
	if cfg.Retention != 24*time.Hour {
		t.Fatalf("retention %s", cfg.Retention)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("origins %v", cfg.AllowedOrigins)
	}

	t.Setenv("MAX_FILE_SIZE_MB", "2")
	t.Setenv("SHARE_RETENTION_SECONDS", "90")
	t.Setenv("ALLOWED_MIME_TYPES", "image/png, text/plain")
	cfg = LoadConfig()
	if cfg.MaxFileBytes() != 2<<20 || cfg.Retention != 90*time.Second {
		t.Fatalf("overrides %d %s", cfg.MaxFileBytes(), cfg.Retention)
	}
	if strings.Join(cfg.AllowedMIMETypes, ",") != "image/png,text/plain" {
		t.Fatalf("allowed %v", cfg.AllowedMIMETypes)
	}
}

func TestNewServerRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.BlobBackend = "tape"
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("unknown blob backend accepted")
	}
	cfg = testConfig(t)
	cfg.RecordStore = "punchcards"
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("unknown record store accepted")
	}
}

func TestServerEndToEnd(t *testing.T) {
	_, ts := startServer(t, testConfig(t))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health httpresp.HealthResponse
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Status != "OK" {
		t.Fatalf("health %+v", health)
	}

	content := []byte("hello from the share service\n")
	up := upload(t, ts.URL, "notes.txt", content)
	if len(up.Code) != 4 || up.Filename != "notes.txt" || up.Size != int64(len(content)) {
		t.Fatalf("upload response %+v", up)
	}

	resp, err = http.Get(ts.URL + "/download/" + up.Code)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(got, content) {
		t.Fatalf("download %d %q", resp.StatusCode, got)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Fatalf("Content-Disposition %q", cd)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"share_issue_total", "http_requests_total"} {
		if !strings.Contains(string(metrics), name) {
			t.Fatalf("metrics missing %s", name)
		}
	}
}

func TestServerChatAndShutdown(t *testing.T) {
	s, ts := startServer(t, testConfig(t))
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat?username=alice"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("roster: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Chat.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected 1001, got %v", err)
	}
}
