package domain

import "time"

const (
	FrameMessage    = "message"
	FrameSwitchRoom = "switchRoom"
	FrameUserJoined = "userJoined"
	FrameUserLeft   = "userLeft"
	FrameUserList   = "userList"
)

const (
	DefaultRoom     = "general"
	MaxRoomNameLen  = 64
	MaxUsernameLen  = 50
	MaxMessageLen   = 500
	DefaultMaxFrame = 4096
)

// InboundFrame is every frame a client may send. Fields unused by Type are ignored.
type InboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Room    string `json:"room,omitempty"`
}

type ChatMessage struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

// Presence carries the full member list so clients can replace their roster wholesale.
type Presence struct {
	Type     string   `json:"type"`
	Username string   `json:"username,omitempty"`
	Users    []string `json:"users"`
}

type RoomInfo struct {
	Name    string
	Members int
}

// ValidRoomName accepts 1-64 characters of ASCII letters, digits, '-' and '_'.
func ValidRoomName(name string) bool {
	if name == "" || len(name) > MaxRoomNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
