package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TeacherAuth is the shared-secret presenter check consumed by the REST
// surface. It answers "is this request from an authorized presenter" and
// nothing more.
type TeacherAuth struct {
	secret string
}

// NewTeacherAuth creates the verifier. An empty secret denies everything.
func NewTeacherAuth(secret string) *TeacherAuth {
	return &TeacherAuth{secret: secret}
}

// Verify accepts the secret from the X-Teacher-Secret header or an
// Authorization bearer token.
func (a *TeacherAuth) Verify(r *http.Request) bool {
	if a.secret == "" {
		return false
	}
	candidate := r.Header.Get("X-Teacher-Secret")
	if candidate == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			candidate = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(a.secret)) == 1
}
