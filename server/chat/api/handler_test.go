package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"akashshare/server/chat/service"
	commonlog "akashshare/server/common/log"
	"akashshare/server/common/transport/httpresp"
)

func init() {
	gin.SetMode(gin.TestMode)
	commonlog.DisableFile()
	commonlog.SetOutput(io.Discard)
}

func newTestServer(t *testing.T, origins []string) (*service.Manager, *httptest.Server) {
	t.Helper()
	m := service.NewManager(service.NewHub(service.HubConfig{}), service.ManagerConfig{})
	r := gin.New()
	NewHandler(m, origins).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, srv
}

func chatURL(srv *httptest.Server, q url.Values) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat?" + q.Encode()
}

func TestChatQueryValidation(t *testing.T) {
	_, srv := newTestServer(t, nil)
	cases := []struct {
		name  string
		query url.Values
		want  string
	}{
		{"missing username", url.Values{}, httpresp.ErrUsernameRequired},
		{"blank username", url.Values{"username": {"   "}}, httpresp.ErrUsernameRequired},
		{"bad room", url.Values{"username": {"A"}, "room": {"no/slashes"}}, httpresp.ErrInvalidRoom},
		{"long room", url.Values{"username": {"A"}, "room": {strings.Repeat("r", 65)}}, httpresp.ErrInvalidRoom},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(chatURL(srv, tc.query), nil)
			if err == nil {
				t.Fatal("dial succeeded")
			}
			if resp == nil || resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("response %+v", resp)
			}
			defer resp.Body.Close()
			var body httpresp.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Error != tc.want {
				t.Fatalf("error %q, want %q", body.Error, tc.want)
			}
		})
	}
}

func TestChatDefaultsToGeneralAndListsRooms(t *testing.T) {
	m, srv := newTestServer(t, nil)
	ws, _, err := websocket.DefaultDialer.Dial(chatURL(srv, url.Values{"username": {"A"}}), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var roster struct {
		Type  string   `json:"type"`
		Users []string `json:"users"`
	}
	if err := ws.ReadJSON(&roster); err != nil {
		t.Fatal(err)
	}
	if roster.Type != "userList" || len(roster.Users) != 1 || roster.Users[0] != "A" {
		t.Fatalf("roster %+v", roster)
	}
	if got := m.Hub().Members("general"); len(got) != 1 {
		t.Fatalf("general members %v", got)
	}

	resp, err := http.Get(srv.URL + "/api/v1/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rooms []httpresp.RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0] != (httpresp.RoomSummary{Name: "general", Members: 1}) {
		t.Fatalf("rooms %+v", rooms)
	}
}

func TestOriginAllowList(t *testing.T) {
	_, srv := newTestServer(t, []string{"https://Share.Example.com/", "not a url"})
	q := url.Values{"username": {"A"}, "room": {"general"}}

	header := http.Header{"Origin": {"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(chatURL(srv, q), header); err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin: err=%v resp=%+v", err, resp)
	}

	header = http.Header{"Origin": {"https://share.example.com"}}
	ws, _, err := websocket.DefaultDialer.Dial(chatURL(srv, q), header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	_ = ws.Close()
}

func TestOriginPolicy(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/chat", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list admits all", nil, "https://a.test", true},
		{"wildcard", []string{"*"}, "https://a.test", true},
		{"listed", []string{"https://a.test"}, "HTTPS://A.TEST", true},
		{"unlisted", []string{"https://a.test"}, "https://b.test", false},
		{"scheme matters", []string{"https://a.test"}, "http://a.test", false},
		{"no origin header", []string{"https://a.test"}, "", true},
		{"garbage origin", []string{"https://a.test"}, "::::", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := newOriginPolicy(tc.allowed).check(req(tc.origin)); got != tc.want {
				t.Fatalf("check(%q) = %v", tc.origin, got)
			}
		})
	}
}
