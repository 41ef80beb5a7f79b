package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Alice", "alice"},
		{"alice ", "alice"},
		{"  A l i c e  ", "alice"},
		{"Bob!", "bob"},
		{"BOB", "bob"},
		{"user42", "user42"},
		{"---", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestRegistryJoinDuplicate(t *testing.T) {
	r := NewRegistry()

	id, err := r.Join("Alice", RoleStudent, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Key)

	// Same normalized key, different raw spelling.
	_, err = r.Join("alice ", RoleStudent, "conn-2")
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	// After the first connection leaves, the name is free again.
	r.Leave("conn-1")
	_, err = r.Join("ALICE", RoleStudent, "conn-3")
	assert.NoError(t, err)
}

func TestRegistryBanBlocksRejoin(t *testing.T) {
	r := NewRegistry()

	id, err := r.Join("Bob", RoleStudent, "conn-1")
	require.NoError(t, err)

	banned, live := r.Ban("bob")
	assert.True(t, live)
	assert.Equal(t, id.ConnID, banned.ConnID)

	r.Leave("conn-1")

	// "Bob " normalizes to the banned key.
	_, err = r.Join("Bob ", RoleStudent, "conn-2")
	assert.ErrorIs(t, err, ErrBanned)
	assert.True(t, r.Banned("BOB"))
}

func TestRegistryBanWithoutLiveConnection(t *testing.T) {
	r := NewRegistry()
	_, live := r.Ban("ghost")
	assert.False(t, live)

	_, err := r.Join("Ghost", RoleStudent, "conn-1")
	assert.ErrorIs(t, err, ErrBanned)
}

func TestRegistryAnonymousNeverRegistered(t *testing.T) {
	r := NewRegistry()

	id, err := r.Join("", RoleStudent, "conn-1")
	require.NoError(t, err)
	assert.True(t, id.Anonymous())

	// A second anonymous join is not a duplicate.
	_, err = r.Join("  ", RoleStudent, "conn-2")
	assert.NoError(t, err)
}

func TestRegistryLeaveIdempotent(t *testing.T) {
	r := NewRegistry()
	_, err := r.Join("Carol", RoleStudent, "conn-1")
	require.NoError(t, err)

	r.Leave("conn-1")
	r.Leave("conn-1")
	r.Leave("never-joined")
}

func TestRegistryConcurrentJoinsAdmitExactlyOne(t *testing.T) {
	r := NewRegistry()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Join("alice", RoleStudent, fmt.Sprintf("conn-%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateIdentity)
		}
	}
	assert.Equal(t, 1, succeeded)
}
