package credential

import (
	"time"

	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
)

// Role is the closed set of site roles carried inside a session.
type Role string

const (
	RoleMember Role = "member"
	RoleTutor  Role = "tutor"
	RoleAdmin  Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleTutor, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ParseRole validates an externally supplied role string.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role: "+s)
	}
	return r, nil
}

// Claims are the contents of a sealed session token. Immutable once issued;
// reissue means a new token with a new SessionID.
type Claims struct {
	SubjectID id.SubjectID `json:"sub"`
	SessionID id.SessionID `json:"sid"`
	Role      Role         `json:"role"`
	IssuedAt  time.Time    `json:"iat"`
	ExpiresAt time.Time    `json:"exp"`
}

// Scope returns the session-scope key CSRF tokens and rate-limit overrides
// bind to. One scope per session, so token reissue tracks re-login.
func (c Claims) Scope() string {
	return c.SessionID.String()
}

// ExpiredAt reports whether the claims are past their expiry at the given instant.
func (c Claims) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
