// Package threat classifies request payloads against known attack-pattern
// families. The detector is stateless and deterministic: the same payload
// always yields the same classification, with no randomness and no external
// calls.
package threat

import (
	"bastion/internal/event"
)

// Classification is the outcome of inspecting one payload.
type Classification struct {
	Flagged         bool
	MatchedPatterns []string
	// Severity is critical when any SQL family matched, high otherwise.
	// Unflagged payloads carry no severity.
	Severity event.Severity
	// EventType is the bus event kind a flagged payload maps to.
	EventType event.Type
}

// Detector runs the ordered signature set against serialized payloads.
type Detector struct {
	patterns []pattern
}

// NewDetector creates a detector with the default signature set.
func NewDetector() *Detector {
	return &Detector{patterns: defaultPatterns}
}

// Classify inspects a serialized payload. All matched pattern names are
// reported in signature order, not just the first; severity follows the
// gravest family matched (SQL ⇒ critical, markup/script ⇒ high).
//
// Malformed-but-benign input is not the detector's concern: a payload that
// matches nothing is unflagged regardless of whether it would pass validation.
func (d *Detector) Classify(payload string) Classification {
	var c Classification
	sqlHit := false

	for _, p := range d.patterns {
		if !p.Regex.MatchString(payload) {
			continue
		}
		c.Flagged = true
		c.MatchedPatterns = append(c.MatchedPatterns, p.Name)
		if p.Family.SQL() {
			sqlHit = true
		}
	}

	if !c.Flagged {
		return c
	}

	if sqlHit {
		c.Severity = event.SeverityCritical
		c.EventType = event.TypeSQLInjectionAttempt
	} else {
		c.Severity = event.SeverityHigh
		c.EventType = event.TypeSuspiciousInput
	}
	return c
}
