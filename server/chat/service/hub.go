package service

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"akashshare/server/chat/domain"
	commonlog "akashshare/server/common/log"
)

// Outbox accepts an encoded frame for delivery. It must never block; a false
// return means the frame was not queued.
type Outbox interface {
	Enqueue(frame []byte) bool
}

type Session struct {
	ID          string
	Username    string
	ConnectedAt time.Time
	out         Outbox
}

func NewSession(id, username string, out Outbox) *Session {
	return &Session{ID: id, Username: username, ConnectedAt: time.Now(), out: out}
}

type HubConfig struct {
	MaxMessageRunes int
}

// Hub owns every room. Membership changes and the session index are guarded by
// one lock, so a session is in exactly one room at every instant between Join and Leave.
// Presence frames are queued while the lock is held so each member sees roster
// updates in membership order; chat fan-out copies the member list and sends
// after releasing the lock.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	index map[*Session]*Room
	cfg   HubConfig
	now   func() time.Time
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.MaxMessageRunes <= 0 {
		cfg.MaxMessageRunes = domain.MaxMessageLen
	}
	return &Hub{
		rooms: map[string]*Room{},
		index: map[*Session]*Room{},
		cfg:   cfg,
		now:   time.Now,
	}
}

// Join places s in roomName, creating the room on first use. The joiner gets the
// roster; everyone already there gets userJoined.
func (h *Hub) Join(s *Session, roomName string) error {
	if !domain.ValidRoomName(roomName) {
		return domain.ErrInvalidRoom
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.index[s]; ok {
		return domain.ErrAlreadyJoined
	}
	room := h.enter(s, roomName)
	users := room.usernames()
	deliver(s, encode(domain.Presence{Type: domain.FrameUserList, Users: users}))
	h.fanout(room.others(s), encode(domain.Presence{Type: domain.FrameUserJoined, Username: s.Username, Users: users}))

	activeSessions.Inc()
	commonlog.Infof("event=chat_hub action=join status=ok session_id=%s room=%s members=%d", s.ID, room.Name, len(room.members))
	return nil
}

// Leave removes s from its room. The remaining members get exactly one userLeft.
// It reports false when s was not in any room.
func (h *Hub) Leave(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.exit(s)
	if !ok {
		return false
	}
	h.fanout(room.others(s), encode(domain.Presence{Type: domain.FrameUserLeft, Username: s.Username, Users: room.usernames()}))

	activeSessions.Dec()
	commonlog.Infof("event=chat_hub action=leave status=ok session_id=%s room=%s members=%d", s.ID, room.Name, len(room.members))
	return true
}

// SwitchRoom moves s in one critical section. Switching to the current room is a no-op.
func (h *Hub) SwitchRoom(s *Session, roomName string) error {
	if !domain.ValidRoomName(roomName) {
		return domain.ErrInvalidRoom
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.index[s]
	if !ok {
		return domain.ErrNotJoined
	}
	if current.Name == roomName {
		return nil
	}

	old, _ := h.exit(s)
	h.fanout(old.others(s), encode(domain.Presence{Type: domain.FrameUserLeft, Username: s.Username, Users: old.usernames()}))

	room := h.enter(s, roomName)
	users := room.usernames()
	deliver(s, encode(domain.Presence{Type: domain.FrameUserList, Users: users}))
	h.fanout(room.others(s), encode(domain.Presence{Type: domain.FrameUserJoined, Username: s.Username, Users: users}))

	commonlog.Infof("event=chat_hub action=switch_room status=ok session_id=%s from=%s to=%s", s.ID, old.Name, room.Name)
	return nil
}

// Publish delivers msg to every member of roomName, sender included, and returns
// how many outboxes accepted it. Members whose outbox refuses the frame are skipped.
func (h *Hub) Publish(roomName string, msg domain.ChatMessage) int {
	h.mu.RLock()
	room, ok := h.rooms[roomName]
	var members []*Session
	if ok {
		members = room.others(nil)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		return 0
	}
	msg.Type = domain.FrameMessage
	msg.Room = roomName
	return h.fanout(members, encode(msg))
}

// Say publishes text from s into the room s is currently in. A frame naming a
// different room is refused rather than redirected.
func (h *Hub) Say(s *Session, frame domain.InboundFrame) (int, error) {
	text := domain.SanitizeMessage(frame.Message, h.cfg.MaxMessageRunes)
	if text == "" {
		return 0, domain.ErrEmptyMessage
	}
	roomName, ok := h.RoomOf(s)
	if !ok {
		return 0, domain.ErrNotJoined
	}
	if room := strings.TrimSpace(frame.Room); room != "" && room != roomName {
		return 0, domain.ErrRoomMismatch
	}
	return h.Publish(roomName, domain.ChatMessage{
		Username:  s.Username,
		Message:   text,
		Timestamp: h.now().UTC(),
	}), nil
}

func (h *Hub) RoomOf(s *Session) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.index[s]
	if !ok {
		return "", false
	}
	return room.Name, true
}

// Members returns the usernames currently in roomName, sorted.
func (h *Hub) Members(roomName string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[roomName]
	if !ok {
		return []string{}
	}
	return room.usernames()
}

// Rooms lists every room created so far with its member count, sorted by name.
func (h *Hub) Rooms() []domain.RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.RoomInfo, 0, len(h.rooms))
	for _, room := range h.rooms {
		out = append(out, domain.RoomInfo{Name: room.Name, Members: len(room.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.index)
}

// enter and exit require h.mu held for writing.
func (h *Hub) enter(s *Session, roomName string) *Room {
	room, ok := h.rooms[roomName]
	if !ok {
		room = newRoom(roomName)
		h.rooms[roomName] = room
		roomsCreated.Inc()
	}
	room.members[s] = struct{}{}
	h.index[s] = room
	return room
}

func (h *Hub) exit(s *Session) (*Room, bool) {
	room, ok := h.index[s]
	if !ok {
		return nil, false
	}
	delete(room.members, s)
	delete(h.index, s)
	return room, true
}

func (h *Hub) fanout(members []*Session, frame []byte) int {
	if frame == nil {
		return 0
	}
	delivered := 0
	for _, m := range members {
		if deliver(m, frame) {
			delivered++
		}
	}
	if dropped := len(members) - delivered; dropped > 0 {
		fanoutTotal.WithLabelValues("dropped").Add(float64(dropped))
	}
	fanoutTotal.WithLabelValues("delivered").Add(float64(delivered))
	return delivered
}

func deliver(s *Session, frame []byte) bool {
	if s.out == nil || frame == nil {
		return false
	}
	return s.out.Enqueue(frame)
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		commonlog.Errorf("event=chat_hub action=encode status=failed err=%v", err)
		return nil
	}
	return b
}
