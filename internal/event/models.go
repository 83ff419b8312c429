package event

import (
	"time"

	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
)

// Type is the closed set of security event kinds. Consumers switch over it
// exhaustively; adding a kind is a compile-visible change, not a string drift.
type Type string

const (
	TypeRateLimit           Type = "rate_limit"
	TypeCSRFViolation       Type = "csrf_violation"
	TypeAuthFailure         Type = "auth_failure"
	TypeSuspiciousInput     Type = "suspicious_input"
	TypeSQLInjectionAttempt Type = "sql_injection_attempt"
	TypeSessionRevoked      Type = "session_revoked"
	TypeSystemError         Type = "system_error"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeRateLimit, TypeCSRFViolation, TypeAuthFailure, TypeSuspiciousInput,
		TypeSQLInjectionAttempt, TypeSessionRevoked, TypeSystemError:
		return true
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

// ParseType validates an externally supplied event type string.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid event type: "+s)
	}
	return t, nil
}

// Severity grades an event for incident qualification and analytics.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func (s Severity) String() string {
	return string(s)
}

// rank orders severities so filters can express "at least".
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is min or graver.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// ParseSeverity validates an externally supplied severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid severity: "+s)
	}
	return sev, nil
}

// Event is a single security-relevant occurrence. Immutable once appended to
// the bus; analytics and the orchestrator both rely on stable timestamp order.
type Event struct {
	ID        id.EventID     `json:"id"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	ClientIP  string         `json:"client_ip"`
	Path      string         `json:"path"`
	Details   map[string]any `json:"details,omitempty"`
}

// New creates an Event with domain invariant validation. ID and Timestamp are
// assigned by the publisher on emit so callers stay free of clock and ID wiring.
func New(eventType Type, severity Severity, clientIP, path string, details map[string]any) (Event, error) {
	if !eventType.IsValid() {
		return Event{}, dErrors.New(dErrors.CodeInvariantViolation, "invalid event type")
	}
	if !severity.IsValid() {
		return Event{}, dErrors.New(dErrors.CodeInvariantViolation, "invalid severity")
	}
	if clientIP == "" {
		return Event{}, dErrors.New(dErrors.CodeInvariantViolation, "client ip cannot be empty")
	}
	return Event{
		Type:     eventType,
		Severity: severity,
		ClientIP: clientIP,
		Path:     path,
		Details:  details,
	}, nil
}

// Qualifying reports whether the event can, on its own or in repetition,
// open or advance an incident. Sub-threshold events only feed analytics.
func (e Event) Qualifying() bool {
	return e.Severity.AtLeast(SeverityHigh)
}
