package session

import (
	"strings"
	"unicode"
)

// Role identifies what a connection is allowed to do in a room.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Identity is a registered participant: the raw display name plus the
// normalized key that deduplication, bans and vote attribution run on.
type Identity struct {
	Key    string
	Name   string
	Role   Role
	ConnID string
}

// Anonymous reports whether this identity has no usable name key. Anonymous
// connections are never registered or banned; their submissions are keyed by
// connection id instead.
func (i Identity) Anonymous() bool {
	return i.Key == ""
}

// Normalize maps a raw display name to its identity key: case-folded with
// everything that is not a letter or digit stripped. "Alice " and "alice"
// collapse to the same key.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
