package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"akashshare/server/chat/domain"
	commonlog "akashshare/server/common/log"
)

var ErrShuttingDown = errors.New("chat manager is shutting down")

type ManagerConfig struct {
	Conn             ConnConfig
	MaxUsernameRunes int
}

// Manager owns the live connections so they can be closed together on shutdown.
type Manager struct {
	hub     *Hub
	cfg     ManagerConfig
	mu      sync.Mutex
	conns   map[*Connection]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewManager(hub *Hub, cfg ManagerConfig) *Manager {
	if cfg.MaxUsernameRunes <= 0 {
		cfg.MaxUsernameRunes = domain.MaxUsernameLen
	}
	return &Manager{hub: hub, cfg: cfg, conns: map[*Connection]struct{}{}}
}

func (m *Manager) Hub() *Hub {
	return m.hub
}

// CleanUsername applies the same sanitization Serve uses.
func (m *Manager) CleanUsername(raw string) string {
	return domain.SanitizeUsername(raw, m.cfg.MaxUsernameRunes)
}

// Serve runs one upgraded socket until it closes. It blocks.
func (m *Manager) Serve(ws *websocket.Conn, username, roomName string) error {
	username = m.CleanUsername(username)
	if username == "" {
		closeRejected(ws, websocket.ClosePolicyViolation, "username is required")
		return domain.ErrEmptyUsername
	}

	c := newConnection(ws, m.hub, uuid.NewString(), username, m.cfg.Conn)
	if !m.track(c) {
		closeRejected(ws, websocket.CloseGoingAway, "server shutting down")
		return ErrShuttingDown
	}
	defer m.untrack(c)

	if err := c.Open(roomName); err != nil {
		c.Close(websocket.CloseInternalServerErr, "open failed")
		commonlog.Warnf("event=chat_manager action=open status=failed session_id=%s room=%s err=%v", c.session.ID, roomName, err)
		return err
	}
	commonlog.Infof("event=chat_manager action=open status=ok session_id=%s room=%s", c.session.ID, roomName)
	c.Run()
	return nil
}

// Count reports connections that have not finished teardown.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Shutdown refuses new connections, closes every live one with 1001 and waits
// for their pumps to return or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	live := make([]*Connection, 0, len(m.conns))
	for c := range m.conns {
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		commonlog.Infof("event=chat_manager action=shutdown status=ok closed=%d", len(live))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) track(c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.conns[c] = struct{}{}
	m.wg.Add(1)
	return true
}

func (m *Manager) untrack(c *Connection) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
	m.wg.Done()
}

func closeRejected(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = ws.Close()
}
