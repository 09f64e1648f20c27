package client

import "sync/atomic"

// Snapshot is an immutable view of the server state mirrored on the
// client: who is online, which rooms exist, and which room this client
// is in. Command handlers read whole snapshots and never see a
// half-applied update.
type Snapshot struct {
	Users       []string
	Rooms       []string
	CurrentRoom string
}

// mirror holds the current snapshot behind an atomic pointer. The
// receive loop is the only writer; readers load whatever snapshot is
// current and keep it.
type mirror struct {
	v atomic.Pointer[Snapshot]
}

func newMirror() *mirror {
	m := &mirror{}
	m.v.Store(&Snapshot{})
	return m
}

func (m *mirror) load() Snapshot {
	return *m.v.Load()
}

func (m *mirror) setUsers(users []string) {
	s := *m.v.Load()
	s.Users = users
	m.v.Store(&s)
}

func (m *mirror) setRooms(rooms []string) {
	s := *m.v.Load()
	s.Rooms = rooms
	m.v.Store(&s)
}

func (m *mirror) setCurrentRoom(room string) {
	s := *m.v.Load()
	s.CurrentRoom = room
	m.v.Store(&s)
}

func (m *mirror) hasUser(name string) bool {
	for _, u := range m.load().Users {
		if u == name {
			return true
		}
	}
	return false
}

func (m *mirror) hasRoom(name string) bool {
	for _, r := range m.load().Rooms {
		if r == name {
			return true
		}
	}
	return false
}
