package service

import "sort"

// Room is the set of sessions sharing one topic name. Only Hub touches members,
// always under its lock.
type Room struct {
	Name    string
	members map[*Session]struct{}
}

func newRoom(name string) *Room {
	return &Room{Name: name, members: map[*Session]struct{}{}}
}

func (r *Room) usernames() []string {
	names := make([]string, 0, len(r.members))
	for s := range r.members {
		names = append(names, s.Username)
	}
	sort.Strings(names)
	return names
}

func (r *Room) others(except *Session) []*Session {
	out := make([]*Session, 0, len(r.members))
	for s := range r.members {
		if s != except {
			out = append(out, s)
		}
	}
	return out
}
