package session

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrBanned is returned when a normalized key has been kicked from the
	// session. Bans are monotonic for the life of the process.
	ErrBanned = errors.New("identity has been removed from the session")

	// ErrDuplicateIdentity is returned when a normalized key already maps to a
	// live connection.
	ErrDuplicateIdentity = errors.New("identity already connected")
)

// Registry tracks which normalized identity keys are currently connected and
// which have been permanently banned. The zero registry is not usable; create
// one with NewRegistry.
type Registry struct {
	mu     sync.Mutex
	byKey  map[string]Identity // normalized key -> live identity
	byConn map[string]string   // conn id -> normalized key
	banned map[string]struct{}
}

// NewRegistry creates an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[string]Identity),
		byConn: make(map[string]string),
		banned: make(map[string]struct{}),
	}
}

// Join registers rawName for connID. The check-and-set is atomic: of two
// concurrent joins with the same normalized name exactly one succeeds, the
// other gets ErrDuplicateIdentity. A banned key always gets ErrBanned.
// Names that normalize to nothing join anonymously and are not registered.
func (r *Registry) Join(rawName string, role Role, connID string) (Identity, error) {
	key := Normalize(rawName)
	id := Identity{Key: key, Name: rawName, Role: role, ConnID: connID}
	if key == "" {
		return id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.banned[key]; ok {
		return Identity{}, ErrBanned
	}
	if _, ok := r.byKey[key]; ok {
		return Identity{}, ErrDuplicateIdentity
	}

	r.byKey[key] = id
	r.byConn[connID] = key

	log.Debug().Str("key", key).Str("conn_id", connID).Str("role", string(role)).Msg("identity registered")
	return id, nil
}

// Leave removes the identity mapping for connID, if any. Idempotent.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	// Only drop the key mapping if this connection still owns it.
	if id, ok := r.byKey[key]; ok && id.ConnID == connID {
		delete(r.byKey, key)
	}
}

// Ban adds the normalized form of rawName to the permanent ban set and
// returns the live identity currently holding that key, if any, so the
// caller can force-disconnect it. Bans are never removed.
func (r *Registry) Ban(rawName string) (Identity, bool) {
	key := Normalize(rawName)
	if key == "" {
		return Identity{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.banned[key] = struct{}{}
	id, live := r.byKey[key]

	log.Info().Str("key", key).Bool("live_connection", live).Msg("identity banned")
	return id, live
}

// Banned reports whether the normalized form of rawName is banned.
func (r *Registry) Banned(rawName string) bool {
	key := Normalize(rawName)
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.banned[key]
	return ok
}
