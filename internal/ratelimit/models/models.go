package models

import (
	"time"
)

// RouteScope classifies endpoints for rate limiting. Windows are
// per-identity-per-scope so endpoints never interfere with each other.
type RouteScope string

const (
	// ScopeAuth: login and token endpoints.
	ScopeAuth RouteScope = "auth"
	// ScopeContact: the contact form.
	ScopeContact RouteScope = "contact"
	// ScopeNewsletter: newsletter signups.
	ScopeNewsletter RouteScope = "newsletter"
	// ScopeRead: read-only pages and APIs.
	ScopeRead RouteScope = "read"
	// ScopeWrite: general mutations.
	ScopeWrite RouteScope = "write"
)

func (s RouteScope) IsValid() bool {
	switch s {
	case ScopeAuth, ScopeContact, ScopeNewsletter, ScopeRead, ScopeWrite:
		return true
	}
	return false
}

func (s RouteScope) String() string {
	return string(s)
}

// Result is the outcome of a single fixed-window consume.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}
