package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomsJoinLeave(t *testing.T) {
	r := NewRooms()
	r.Join("lobby", Member{ConnID: "c1", Name: "Teacher", Role: RoleTeacher})
	r.Join("lobby", Member{ConnID: "c2", Name: "Alice", Role: RoleStudent})

	assert.Len(t, r.List("lobby"), 2)
	assert.Equal(t, 1, r.CountStudents("lobby"))

	room, ok := r.Leave("c2")
	require.True(t, ok)
	assert.Equal(t, "lobby", room)
	assert.Equal(t, 0, r.CountStudents("lobby"))

	// Leaving again is a no-op.
	_, ok = r.Leave("c2")
	assert.False(t, ok)
}

func TestRoomsJoinMovesBetweenRooms(t *testing.T) {
	r := NewRooms()
	r.Join("lobby", Member{ConnID: "c1", Name: "Alice", Role: RoleStudent})
	r.Join("side", Member{ConnID: "c1", Name: "Alice", Role: RoleStudent})

	assert.Empty(t, r.List("lobby"))
	assert.Len(t, r.List("side"), 1)

	room, ok := r.Room("c1")
	require.True(t, ok)
	assert.Equal(t, "side", room)
}

func TestRoomsMember(t *testing.T) {
	r := NewRooms()
	r.Join("lobby", Member{ConnID: "c1", Name: "Alice", Role: RoleStudent})

	m, ok := r.Member("c1")
	require.True(t, ok)
	assert.Equal(t, "Alice", m.Name)

	_, ok = r.Member("unknown")
	assert.False(t, ok)
}

func TestRoomsListIsSnapshot(t *testing.T) {
	r := NewRooms()
	r.Join("lobby", Member{ConnID: "c1", Name: "Alice", Role: RoleStudent})

	snapshot := r.List("lobby")
	r.Leave("c1")
	assert.Len(t, snapshot, 1)
	assert.Empty(t, r.List("lobby"))
}
