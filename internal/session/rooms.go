package session

import "sync"

// Member is one connection's presence in a room.
type Member struct {
	ConnID string
	Name   string
	Role   Role
}

// Rooms tracks which connections are currently in which room. It answers
// "who is in room X right now" for presence broadcasts and the live student
// recount the full-response rule depends on.
type Rooms struct {
	mu      sync.RWMutex
	byRoom  map[string]map[string]Member // room -> conn id -> member
	roomOf  map[string]string            // conn id -> room
}

// NewRooms creates an empty membership tracker.
func NewRooms() *Rooms {
	return &Rooms{
		byRoom: make(map[string]map[string]Member),
		roomOf: make(map[string]string),
	}
}

// Join places a connection in a room, moving it out of any previous room.
func (r *Rooms) Join(room string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(m.ConnID)
	if r.byRoom[room] == nil {
		r.byRoom[room] = make(map[string]Member)
	}
	r.byRoom[room][m.ConnID] = m
	r.roomOf[m.ConnID] = room
}

// Leave removes a connection from its room, if any, and returns the room it
// was in. Idempotent.
func (r *Rooms) Leave(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID)
}

func (r *Rooms) leaveLocked(connID string) (string, bool) {
	room, ok := r.roomOf[connID]
	if !ok {
		return "", false
	}
	delete(r.roomOf, connID)
	if members, ok := r.byRoom[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.byRoom, room)
		}
	}
	return room, true
}

// Member returns the membership record for a connection.
func (r *Rooms) Member(connID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.roomOf[connID]
	if !ok {
		return Member{}, false
	}
	m, ok := r.byRoom[room][connID]
	return m, ok
}

// Room returns the room a connection is in.
func (r *Rooms) Room(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.roomOf[connID]
	return room, ok
}

// List returns a point-in-time snapshot of a room's members.
func (r *Rooms) List(room string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Member, 0, len(r.byRoom[room]))
	for _, m := range r.byRoom[room] {
		members = append(members, m)
	}
	return members
}

// CountStudents returns the number of student-role connections currently in
// the room. This is recounted live on every submission; membership can change
// between poll start and each vote.
func (r *Rooms) CountStudents(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.byRoom[room] {
		if m.Role == RoleStudent {
			n++
		}
	}
	return n
}
