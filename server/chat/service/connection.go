package service

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"akashshare/server/chat/domain"
	commonlog "akashshare/server/common/log"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type ConnConfig struct {
	WriteWait     time.Duration
	PongWait      time.Duration
	PingPeriod    time.Duration
	MaxFrameBytes int64
	SendBuffer    int
	RatePerSecond float64
	RateBurst     int
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteWait:     10 * time.Second,
		PongWait:      60 * time.Second,
		PingPeriod:    54 * time.Second,
		MaxFrameBytes: domain.DefaultMaxFrame,
		SendBuffer:    256,
		RatePerSecond: 5,
		RateBurst:     10,
	}
}

func (c ConnConfig) withDefaults() ConnConfig {
	d := DefaultConnConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = d.RatePerSecond
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	return c
}

// readLimit is the hard cap enforced by the transport. Frames between
// MaxFrameBytes and readLimit are dropped; anything above closes the socket with 1009.
func (c ConnConfig) readLimit() int64 {
	return c.MaxFrameBytes * 4
}

// Connection drives one websocket through Connecting -> Open -> Closing -> Closed.
type Connection struct {
	ws      *websocket.Conn
	hub     *Hub
	session *Session
	cfg     ConnConfig
	limiter *rate.Limiter
	send    chan []byte
	done    chan struct{}
	state   atomic.Int32
	once    sync.Once
}

func newConnection(ws *websocket.Conn, hub *Hub, id, username string, cfg ConnConfig) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		ws:      ws,
		hub:     hub,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
	c.session = NewSession(id, username, c)
	return c
}

func (c *Connection) Session() *Session {
	return c.session
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

// Enqueue never blocks. A full queue means the peer is not reading; the frame is
// dropped and the connection is closed in the background, because Enqueue may run
// while the hub lock is held.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		commonlog.Warnf("event=chat_connection action=enqueue status=overflow session_id=%s", c.session.ID)
		go c.Close(websocket.CloseTryAgainLater, "send queue full")
		return false
	}
}

// Open moves Connecting -> Open and joins roomName.
func (c *Connection) Open(roomName string) error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return domain.ErrConnectionState
	}
	return c.join(roomName)
}

// join runs after the Open transition. A Close that lands between the two finds
// nothing to leave, so the state is re-checked once the session is in the room.
// Close stores Closing before it leaves, so one of the two Leave calls removes it.
func (c *Connection) join(roomName string) error {
	if err := c.hub.Join(c.session, roomName); err != nil {
		c.Close(websocket.CloseInternalServerErr, "join failed")
		return err
	}
	if c.State() != StateOpen {
		c.hub.Leave(c.session)
		return domain.ErrConnectionState
	}
	return nil
}

// Close is safe to call any number of times from any goroutine. The first call
// leaves the hub, sends a close frame carrying code and releases the socket.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.state.Store(int32(StateClosing))
		c.hub.Leave(c.session)
		close(c.done)

		if code != websocket.CloseAbnormalClosure && code != websocket.CloseNoStatusReceived {
			deadline := time.Now().Add(c.cfg.WriteWait)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		}
		_ = c.ws.Close()
		c.state.Store(int32(StateClosed))

		if code == websocket.CloseNormalClosure {
			closesTotal.WithLabelValues("normal").Inc()
			commonlog.Infof("event=chat_connection action=close status=normal session_id=%s code=%d", c.session.ID, code)
		} else {
			closesTotal.WithLabelValues("abnormal").Inc()
			commonlog.Warnf("event=chat_connection action=close status=abnormal session_id=%s code=%d reason=%q", c.session.ID, code, reason)
		}
	})
}

// Run pumps frames until the connection closes. It returns after teardown.
func (c *Connection) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Connection) readPump() {
	c.ws.SetReadLimit(c.cfg.readLimit())
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.Close(closeCodeFor(err), "")
			return
		}
		if c.State() != StateOpen {
			// teardown already started elsewhere; wait for it
			c.Close(websocket.CloseGoingAway, "")
			return
		}
		if msgType != websocket.TextMessage {
			c.drop("binary", nil)
			continue
		}
		if int64(len(raw)) > c.cfg.MaxFrameBytes {
			c.drop("oversized", nil)
			continue
		}
		if !c.limiter.Allow() {
			c.drop("rate_limited", nil)
			continue
		}
		c.dispatch(raw)
	}
}

func (c *Connection) dispatch(raw []byte) {
	var frame domain.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.drop("malformed", err)
		return
	}
	switch frame.Type {
	case domain.FrameMessage:
		if _, err := c.hub.Say(c.session, frame); err != nil {
			c.drop("rejected_message", err)
		}
	case domain.FrameSwitchRoom:
		if err := c.hub.SwitchRoom(c.session, strings.TrimSpace(frame.Room)); err != nil {
			c.drop("rejected_switch", err)
		}
	default:
		c.drop("unknown_type", domain.ErrUnknownFrame)
	}
}

func (c *Connection) drop(reason string, err error) {
	droppedFramesTotal.WithLabelValues(reason).Inc()
	commonlog.Warnf("event=chat_connection action=read status=dropped reason=%s session_id=%s err=%v", reason, c.session.ID, err)
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// closeCodeFor maps a read error to the code recorded for the close.
// A peer close echoes the peer's code.
func closeCodeFor(err error) int {
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, websocket.ErrReadLimit):
		return websocket.CloseMessageTooBig
	default:
		return websocket.CloseAbnormalClosure
	}
}
