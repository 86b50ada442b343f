package draftapi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionExpired means the bearer token was refused; the caller must
// re-authenticate rather than retry.
var ErrSessionExpired = errors.New("session expired")

// ErrInvalidCode is returned when a commissioner TOTP code is rejected.
var ErrInvalidCode = errors.New("invalid commissioner code")

// PersistenceError is any failure to reach or be accepted by the API that is
// not a session problem. The request is safe to retry.
type PersistenceError struct {
	Op     string
	Status int
	Reason string
	Err    error
}

func (e *PersistenceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// expiredReason matches the error strings the API uses for dead sessions.
func expiredReason(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "expired") ||
		strings.Contains(r, "invalid session") ||
		strings.Contains(r, "invalid token") ||
		strings.Contains(r, "unauthorized")
}
