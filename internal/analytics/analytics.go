// Package analytics computes read-only threat landscape views over the event
// bus and incident stats. It never mutates incidents, blocks, or events.
package analytics

import (
	"context"
	"sort"
	"time"

	"bastion/internal/event"
	"bastion/internal/incident"
)

// Config holds the risk thresholds. Exported so deployments can tune how
// jumpy the landscape is without recompiling handlers.
type Config struct {
	// Window is how far back landscape queries look.
	Window time.Duration
	// TopThreatLimit bounds the TopThreats slice.
	TopThreatLimit int
	// ElevatedCriticalEvents is the critical-event count in the window at or
	// above which risk is at least elevated.
	ElevatedCriticalEvents int
}

func DefaultConfig() Config {
	return Config{
		Window:                 24 * time.Hour,
		TopThreatLimit:         5,
		ElevatedCriticalEvents: 1,
	}
}

// RiskLevel is the coarse landscape verdict.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

// ThreatCount is one event type's share of the window.
type ThreatCount struct {
	Type  event.Type `json:"type"`
	Count int        `json:"count"`
}

// Landscape is the aggregate threat picture.
type Landscape struct {
	ActiveThreats  int           `json:"activeThreats"`
	CriticalEvents int           `json:"criticalEvents"`
	TopThreats     []ThreatCount `json:"topThreats"`
	RiskLevel      RiskLevel     `json:"riskLevel"`
}

// Querier is the slice of the event store the service reads.
type Querier interface {
	Query(ctx context.Context, f event.Filter) ([]event.Event, error)
}

// IncidentStats supplies lifecycle counts from the orchestrator.
type IncidentStats interface {
	Stats() incident.Stats
}

// Service derives landscape views. Safe for concurrent use; it holds no state
// of its own.
type Service struct {
	cfg       Config
	events    Querier
	incidents IncidentStats
}

func New(cfg Config, events Querier, incidents IncidentStats) *Service {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.TopThreatLimit <= 0 {
		cfg.TopThreatLimit = DefaultConfig().TopThreatLimit
	}
	if cfg.ElevatedCriticalEvents <= 0 {
		cfg.ElevatedCriticalEvents = DefaultConfig().ElevatedCriticalEvents
	}
	return &Service{cfg: cfg, events: events, incidents: incidents}
}

// Landscape summarizes the rolling window: per-type counts of qualifying
// events, critical-event count, and a risk verdict. Any escalated incident
// forces high; criticals at or past the threshold force elevated.
func (s *Service) Landscape(ctx context.Context, now time.Time) (Landscape, error) {
	events, err := s.events.Query(ctx, event.Filter{
		MinSeverity: event.SeverityHigh,
		Since:       now.Add(-s.cfg.Window),
	})
	if err != nil {
		return Landscape{}, err
	}

	byType := make(map[event.Type]int)
	critical := 0
	for _, e := range events {
		byType[e.Type]++
		if e.Severity == event.SeverityCritical {
			critical++
		}
	}

	top := make([]ThreatCount, 0, len(byType))
	for t, n := range byType {
		top = append(top, ThreatCount{Type: t, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Type < top[j].Type
	})
	if len(top) > s.cfg.TopThreatLimit {
		top = top[:s.cfg.TopThreatLimit]
	}

	stats := s.incidents.Stats()

	risk := RiskNormal
	if critical >= s.cfg.ElevatedCriticalEvents {
		risk = RiskElevated
	}
	if stats.Escalated > 0 {
		risk = RiskHigh
	}

	return Landscape{
		ActiveThreats:  stats.Open + stats.Contained + stats.Escalated,
		CriticalEvents: critical,
		TopThreats:     top,
		RiskLevel:      risk,
	}, nil
}

// Metrics is the admin dashboard payload built on top of Landscape.
type Metrics struct {
	SecurityScore  int           `json:"securityScore"`
	ThreatLevel    RiskLevel     `json:"threatLevel"`
	ActiveThreats  int           `json:"activeThreats"`
	BlockedAttacks int           `json:"blockedAttacks"`
	CriticalEvents int           `json:"criticalEvents"`
	TopThreats     []ThreatCount `json:"topThreats"`
}

// ThreatMetrics folds the landscape into a dashboard view. BlockedAttacks
// counts rejected hostile payloads and CSRF violations in the window; the
// score starts at 100 and decays with active threats and criticals.
func (s *Service) ThreatMetrics(ctx context.Context, now time.Time) (Metrics, error) {
	landscape, err := s.Landscape(ctx, now)
	if err != nil {
		return Metrics{}, err
	}

	blocked, err := s.events.Query(ctx, event.Filter{
		Types: []event.Type{
			event.TypeSQLInjectionAttempt,
			event.TypeSuspiciousInput,
			event.TypeCSRFViolation,
		},
		Since: now.Add(-s.cfg.Window),
	})
	if err != nil {
		return Metrics{}, err
	}

	score := 100 - 10*landscape.ActiveThreats - 5*landscape.CriticalEvents
	if score < 0 {
		score = 0
	}

	return Metrics{
		SecurityScore:  score,
		ThreatLevel:    landscape.RiskLevel,
		ActiveThreats:  landscape.ActiveThreats,
		BlockedAttacks: len(blocked),
		CriticalEvents: landscape.CriticalEvents,
		TopThreats:     landscape.TopThreats,
	}, nil
}
