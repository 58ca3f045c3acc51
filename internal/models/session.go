package models

import "time"

// SessionStatus is the lifecycle state of a [Session].
type SessionStatus int

const (
	StatusUninitialized SessionStatus = iota
	StatusChecking
	StatusAuthenticated
	StatusAnonymous
	StatusRecovering
	StatusFailed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusChecking:
		return "checking"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	case StatusRecovering:
		return "recovering"
	case StatusFailed:
		return "failed"
	default:
		return ""
	}
}

// Resolving reports whether a check or recovery is still deciding the status.
func (s SessionStatus) Resolving() bool {
	return s == StatusChecking || s == StatusRecovering
}

// Identity is the signed-in user as reported by the identity service.
type Identity struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is the in-memory record of whether and which user is authenticated.
//
// Identity is non-nil if and only if Status is [StatusAuthenticated].
type Session struct {
	Status      SessionStatus
	Identity    *Identity
	Initialized bool
	Err         error // last identity-service failure while Status is [StatusFailed]
}

// Authenticated builds the session for a confirmed identity.
func Authenticated(id Identity) Session {
	return Session{Status: StatusAuthenticated, Identity: &id, Initialized: true}
}

// Anonymous builds the session for a confirmed absence of identity.
func Anonymous() Session {
	return Session{Status: StatusAnonymous, Initialized: true}
}

// Failed builds the session for an unreachable identity service.
func Failed(err error) Session {
	return Session{Status: StatusFailed, Initialized: true, Err: err}
}

// UserID returns the authenticated user's id, or "" for any other status.
func (s Session) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.UserID
}

// Clone returns a copy that does not share the Identity pointer.
func (s Session) Clone() Session {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}

// RenewableCredential is a non-secret, revocable refresh token issued by the identity service.
// It can re-establish a session without the user's password.
type RenewableCredential struct {
	Identifier   string    `json:"identifier"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Valid reports whether the credential carries a token.
func (c *RenewableCredential) Valid() bool {
	return c != nil && c.RefreshToken != ""
}
