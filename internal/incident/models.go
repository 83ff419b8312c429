package incident

import (
	"time"

	"bastion/internal/event"
	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
)

// Status is an incident's lifecycle stage.
type Status string

const (
	StatusOpen      Status = "open"
	StatusContained Status = "contained"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusContained, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Active reports whether the incident still binds its actor: a resolved
// incident releases the actor for fresh incident creation.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusContained || s == StatusEscalated
}

// CanTransitionTo encodes the full status graph. Anything not listed here is
// illegal, including every edge out of resolved.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusOpen:
		return next == StatusContained || next == StatusEscalated
	case StatusContained:
		return next == StatusEscalated || next == StatusResolved
	case StatusEscalated:
		return next == StatusResolved
	}
	return false
}

// ActionKind names an automated containment measure.
type ActionKind string

const (
	ActionBlockIP     ActionKind = "block_ip"
	ActionTightenRate ActionKind = "tighten_rate_limit"
	ActionEscalate    ActionKind = "escalate"
	ActionResolve     ActionKind = "resolve"
)

// Action records one containment step and whether it actually took effect.
// A failed action is kept with Succeeded=false: the incident must never claim
// containment it did not achieve.
type Action struct {
	Kind      ActionKind `json:"kind"`
	Target    string     `json:"target"`
	At        time.Time  `json:"at"`
	Succeeded bool       `json:"succeeded"`
	Detail    string     `json:"detail,omitempty"`
}

// Incident is the orchestrator's aggregate. Only the orchestrator mutates it;
// triggering events are snapshots, so bus retention never rewrites history.
type Incident struct {
	ID               id.IncidentID  `json:"id"`
	Actor            string         `json:"actor"` // client IP
	Status           Status         `json:"status"`
	Severity         event.Severity `json:"severity"`
	TriggeringEvents []event.Event  `json:"triggering_events"`
	ActionsTaken     []Action       `json:"actions_taken"`
	CreatedAt        time.Time      `json:"created_at"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	// LastQualifyingAt drives the cool-down clock for automatic resolution.
	LastQualifyingAt time.Time `json:"last_qualifying_at"`
}

// newIncident creates an open incident from its first qualifying events.
func newIncident(incidentID id.IncidentID, actor string, events []event.Event, now time.Time) (*Incident, error) {
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "actor cannot be empty")
	}
	if len(events) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "incident requires at least one triggering event")
	}

	severity := events[0].Severity
	for _, e := range events[1:] {
		if e.Severity.AtLeast(severity) {
			severity = e.Severity
		}
	}

	return &Incident{
		ID:               incidentID,
		Actor:            actor,
		Status:           StatusOpen,
		Severity:         severity,
		TriggeringEvents: append([]event.Event(nil), events...),
		CreatedAt:        now,
		LastQualifyingAt: events[len(events)-1].Timestamp,
	}, nil
}

// transitionTo moves the incident along the status graph, rejecting illegal
// edges with an invariant violation.
func (i *Incident) transitionTo(next Status, now time.Time) error {
	if !i.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"illegal incident transition "+i.Status.String()+" -> "+next.String())
	}
	i.Status = next
	if next == StatusResolved {
		t := now
		i.ResolvedAt = &t
	}
	return nil
}

// recordAction appends a containment step to the audit trail.
func (i *Incident) recordAction(kind ActionKind, target string, succeeded bool, detail string, at time.Time) {
	i.ActionsTaken = append(i.ActionsTaken, Action{
		Kind:      kind,
		Target:    target,
		At:        at,
		Succeeded: succeeded,
		Detail:    detail,
	})
}

// absorb attaches a further qualifying event, raising severity if graver.
func (i *Incident) absorb(e event.Event) {
	i.TriggeringEvents = append(i.TriggeringEvents, e)
	if e.Severity.AtLeast(i.Severity) {
		i.Severity = e.Severity
	}
	if e.Timestamp.After(i.LastQualifyingAt) {
		i.LastQualifyingAt = e.Timestamp
	}
}

// Stats aggregates incident counts for the admin API.
type Stats struct {
	Total     int `json:"total"`
	Open      int `json:"open"`
	Contained int `json:"contained"`
	Escalated int `json:"escalated"`
	Resolved  int `json:"resolved"`
	Critical  int `json:"critical"`
}

// Outcome reports what processing one event did, for the synchronous
// incident-creation API.
type Outcome struct {
	IncidentID *id.IncidentID `json:"incidentId,omitempty"`
	Actions    []Action       `json:"actions"`
	Blocked    bool           `json:"blocked"`
}
