// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "bastion/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a SubjectID where an IncidentID is expected.
type (
	SubjectID  uuid.UUID
	SessionID  uuid.UUID
	EventID    uuid.UUID
	IncidentID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseSubjectID(s string) (SubjectID, error) {
	id, err := parseUUID(s, "subject ID")
	return SubjectID(id), err
}

func ParseSessionID(s string) (SessionID, error) {
	id, err := parseUUID(s, "session ID")
	return SessionID(id), err
}

func ParseEventID(s string) (EventID, error) {
	id, err := parseUUID(s, "event ID")
	return EventID(id), err
}

func ParseIncidentID(s string) (IncidentID, error) {
	id, err := parseUUID(s, "incident ID")
	return IncidentID(id), err
}

// New functions - for components that mint their own identifiers.

func NewSubjectID() SubjectID   { return SubjectID(uuid.New()) }
func NewSessionID() SessionID   { return SessionID(uuid.New()) }
func NewEventID() EventID       { return EventID(uuid.New()) }
func NewIncidentID() IncidentID { return IncidentID(uuid.New()) }

// String methods - for logging and debugging.

func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }
func (id IncidentID) String() string { return uuid.UUID(id).String() }

// Text marshaling - IDs render as canonical UUID strings in JSON payloads,
// not as raw byte arrays.

func (id SubjectID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id SessionID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id IncidentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SubjectID) UnmarshalText(b []byte) error {
	parsed, err := ParseSubjectID(string(b))
	*id = parsed
	return err
}

func (id *SessionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSessionID(string(b))
	*id = parsed
	return err
}

func (id *EventID) UnmarshalText(b []byte) error {
	parsed, err := ParseEventID(string(b))
	*id = parsed
	return err
}

func (id *IncidentID) UnmarshalText(b []byte) error {
	parsed, err := ParseIncidentID(string(b))
	*id = parsed
	return err
}

// IsNil checks - used for service-layer validation.

func (id SubjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id IncidentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic. Nil UUIDs are allowed here; use
// IsNil() at the service layer so store lookups can still return proper
// "not found" errors.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return parsed, nil
}
