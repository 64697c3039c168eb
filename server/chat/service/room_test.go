package service

import (
	"reflect"
	"testing"
)

func TestRoomUsernamesSortedAndOthersExcludeSender(t *testing.T) {
	r := newRoom("general")
	carol, _ := member("carol")
	alice, _ := member("alice")
	bob, _ := member("bob")
	for _, s := range []*Session{carol, alice, bob} {
		r.members[s] = struct{}{}
	}

	if got := r.usernames(); !reflect.DeepEqual(got, []string{"alice", "bob", "carol"}) {
		t.Fatalf("usernames = %v", got)
	}
	others := r.others(alice)
	if len(others) != 2 {
		t.Fatalf("others = %d sessions", len(others))
	}
	for _, s := range others {
		if s == alice {
			t.Fatal("others included the excluded session")
		}
	}
	if got := newRoom("empty").usernames(); len(got) != 0 {
		t.Fatalf("empty room usernames = %v", got)
	}
}
