package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bastion/internal/event"
	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
)

type fakeBlockStore struct {
	entries map[string]BlockEntry
	failErr error
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{entries: make(map[string]BlockEntry)}
}

func (f *fakeBlockStore) Put(_ context.Context, entry BlockEntry) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.entries[entry.IP] = entry
	return nil
}

func (f *fakeBlockStore) IsBlocked(_ context.Context, ip string, now time.Time) (bool, error) {
	entry, ok := f.entries[ip]
	return ok && !now.After(entry.ExpiresAt), nil
}

func (f *fakeBlockStore) ActiveCount(now time.Time) int {
	n := 0
	for _, entry := range f.entries {
		if !now.After(entry.ExpiresAt) {
			n++
		}
	}
	return n
}

type tightenCall struct {
	ip    string
	until time.Time
}

type fakeTightener struct {
	calls []tightenCall
}

func (f *fakeTightener) TightenActor(ip string, until time.Time) {
	f.calls = append(f.calls, tightenCall{ip: ip, until: until})
}

type recordingEmitter struct {
	events []event.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e event.Event) error {
	r.events = append(r.events, e)
	return nil
}

type recordingPruner struct {
	before []time.Time
}

func (r *recordingPruner) Prune(_ context.Context, before time.Time) (int, error) {
	r.before = append(r.before, before)
	return 0, nil
}

type OrchestratorSuite struct {
	suite.Suite
	orch      *Orchestrator
	blocks    *fakeBlockStore
	tightener *fakeTightener
	emitter   *recordingEmitter
	pruner    *recordingPruner
	base      time.Time
	ctx       context.Context
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.blocks = newFakeBlockStore()
	s.tightener = &fakeTightener{}
	s.emitter = &recordingEmitter{}
	s.pruner = &recordingPruner{}
	s.base = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	s.ctx = context.Background()

	orch, err := New(Config{
		CooldownWindow:     15 * time.Minute,
		BlockTTL:           30 * time.Minute,
		HighEventThreshold: 3,
		EventRetention:     48 * time.Hour,
		SweepInterval:      time.Minute,
	}, s.blocks, s.tightener, WithEmitter(s.emitter), WithPruner(s.pruner))
	s.Require().NoError(err)
	s.orch = orch
}

func (s *OrchestratorSuite) event(ip string, severity event.Severity, ts time.Time) event.Event {
	e, err := event.New(event.TypeSQLInjectionAttempt, severity, ip, "/forms/contact", nil)
	s.Require().NoError(err)
	e.ID = id.NewEventID()
	e.Timestamp = ts
	return e
}

func (s *OrchestratorSuite) TestCriticalEventOpensAndContains() {
	outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)

	s.Require().NotNil(outcome.IncidentID)
	s.True(outcome.Blocked)
	s.Require().Len(outcome.Actions, 2)
	s.Equal(ActionBlockIP, outcome.Actions[0].Kind)
	s.True(outcome.Actions[0].Succeeded)
	s.Equal(ActionTightenRate, outcome.Actions[1].Kind)

	inc, ok := s.orch.Get(*outcome.IncidentID)
	s.Require().True(ok)
	s.Equal(StatusContained, inc.Status)
	s.Equal(event.SeverityCritical, inc.Severity)
	s.Equal("203.0.113.7", inc.Actor)

	entry, blocked := s.blocks.entries["203.0.113.7"]
	s.Require().True(blocked)
	s.Equal(s.base.Add(30*time.Minute), entry.ExpiresAt)

	s.Require().Len(s.tightener.calls, 1)
	s.Equal("203.0.113.7", s.tightener.calls[0].ip)
	s.Equal(s.base.Add(30*time.Minute), s.tightener.calls[0].until)
}

func (s *OrchestratorSuite) TestHighEventsAccumulateToThreshold() {
	for i := 0; i < 2; i++ {
		outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityHigh, s.base.Add(time.Duration(i)*time.Minute)))
		s.Require().NoError(err)
		s.Nil(outcome.IncidentID, "event %d must not open an incident", i+1)
	}

	outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityHigh, s.base.Add(2*time.Minute)))
	s.Require().NoError(err)
	s.Require().NotNil(outcome.IncidentID)

	inc, ok := s.orch.Get(*outcome.IncidentID)
	s.Require().True(ok)
	s.Equal(StatusContained, inc.Status)
	s.Equal(event.SeverityHigh, inc.Severity)
	s.Len(inc.TriggeringEvents, 3, "all qualifying highs become triggering events")
}

func (s *OrchestratorSuite) TestHighEventsOutsideWindowDoNotAccumulate() {
	for i := 0; i < 3; i++ {
		outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityHigh, s.base.Add(time.Duration(i)*20*time.Minute)))
		s.Require().NoError(err)
		s.Nil(outcome.IncidentID, "spaced-out highs never reach the threshold")
	}
}

func (s *OrchestratorSuite) TestMediumEventsNeverQualify() {
	for i := 0; i < 10; i++ {
		outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityMedium, s.base.Add(time.Duration(i)*time.Second)))
		s.Require().NoError(err)
		s.Nil(outcome.IncidentID)
	}
}

func (s *OrchestratorSuite) TestQualifyingDuringContainmentEscalates() {
	outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)
	incidentID := *outcome.IncidentID

	outcome, err = s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityHigh, s.base.Add(5*time.Minute)))
	s.Require().NoError(err)
	s.Require().NotNil(outcome.IncidentID)
	s.Equal(incidentID, *outcome.IncidentID, "repeat offender folds into the active incident")

	inc, ok := s.orch.Get(incidentID)
	s.Require().True(ok)
	s.Equal(StatusEscalated, inc.Status)
	s.Len(inc.TriggeringEvents, 2)

	last := inc.ActionsTaken[len(inc.ActionsTaken)-1]
	s.Equal(ActionEscalate, last.Kind)
	s.True(last.Succeeded)
}

func (s *OrchestratorSuite) TestDuplicateEventIsNoOp() {
	e := s.event("203.0.113.7", event.SeverityCritical, s.base)

	outcome, err := s.orch.Process(s.ctx, e)
	s.Require().NoError(err)
	s.Require().NotNil(outcome.IncidentID)
	incidentID := *outcome.IncidentID

	outcome, err = s.orch.Process(s.ctx, e)
	s.Require().NoError(err)
	s.Nil(outcome.IncidentID, "replayed event must not touch the state machine")

	inc, _ := s.orch.Get(incidentID)
	s.Len(inc.TriggeringEvents, 1)
	s.Equal(StatusContained, inc.Status)
}

func (s *OrchestratorSuite) TestSweepResolvesAfterCooldown() {
	outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)
	incidentID := *outcome.IncidentID

	s.orch.Sweep(s.ctx, s.base.Add(14*time.Minute))
	inc, _ := s.orch.Get(incidentID)
	s.Equal(StatusContained, inc.Status, "quiet period not yet elapsed")

	s.orch.Sweep(s.ctx, s.base.Add(15*time.Minute))
	inc, _ = s.orch.Get(incidentID)
	s.Equal(StatusResolved, inc.Status)
	s.Require().NotNil(inc.ResolvedAt)

	last := inc.ActionsTaken[len(inc.ActionsTaken)-1]
	s.Equal(ActionResolve, last.Kind)
	s.Equal("cool-down elapsed", last.Detail)

	// The actor is released: a fresh critical opens a new incident.
	outcome, err = s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base.Add(20*time.Minute)))
	s.Require().NoError(err)
	s.Require().NotNil(outcome.IncidentID)
	s.NotEqual(incidentID, *outcome.IncidentID)
}

func (s *OrchestratorSuite) TestSweepPrunesBusRetention() {
	now := s.base.Add(time.Hour)
	s.orch.Sweep(s.ctx, now)

	s.Require().Len(s.pruner.before, 1)
	s.Equal(now.Add(-48*time.Hour), s.pruner.before[0])
}

func (s *OrchestratorSuite) TestStaleEventCannotReopenResolvedIncident() {
	outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)
	incidentID := *outcome.IncidentID

	s.orch.Sweep(s.ctx, s.base.Add(15*time.Minute))

	// A delayed delivery stamped before the actor's latest processed event.
	outcome, err = s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base.Add(-time.Minute)))
	s.Require().NoError(err)
	s.Nil(outcome.IncidentID)

	inc, _ := s.orch.Get(incidentID)
	s.Equal(StatusResolved, inc.Status)
	s.Equal(1, s.orch.Stats().Total, "no new incident from the stale event")
}

func (s *OrchestratorSuite) TestContainmentFailureLeavesIncidentOpen() {
	s.blocks.failErr = errors.New("store unavailable")

	outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)
	s.Require().NotNil(outcome.IncidentID)
	s.False(outcome.Blocked)

	inc, _ := s.orch.Get(*outcome.IncidentID)
	s.Equal(StatusOpen, inc.Status, "never claim containment that did not happen")

	s.Require().Len(inc.ActionsTaken, 2)
	s.Equal(ActionBlockIP, inc.ActionsTaken[0].Kind)
	s.False(inc.ActionsTaken[0].Succeeded)
	s.Equal("store unavailable", inc.ActionsTaken[0].Detail)
	s.Equal(ActionTightenRate, inc.ActionsTaken[1].Kind)
	s.True(inc.ActionsTaken[1].Succeeded, "rate tightening still applies")
	s.Len(s.tightener.calls, 1)

	s.Require().Len(s.emitter.events, 1)
	sysErr := s.emitter.events[0]
	s.Equal(event.TypeSystemError, sysErr.Type)
	s.Equal(event.SeverityMedium, sysErr.Severity)
	s.Equal(outcome.IncidentID.String(), sysErr.Details["incident_id"])
	s.Equal("store unavailable", sysErr.Details["cause"])
}

func (s *OrchestratorSuite) TestManualResolve() {
	outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)
	incidentID := *outcome.IncidentID

	// Escalate, then resolve by hand: the only way out of escalated.
	_, err = s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityHigh, s.base.Add(time.Minute)))
	s.Require().NoError(err)

	s.Require().NoError(s.orch.Resolve(s.ctx, incidentID))
	inc, _ := s.orch.Get(incidentID)
	s.Equal(StatusResolved, inc.Status)

	last := inc.ActionsTaken[len(inc.ActionsTaken)-1]
	s.Equal(ActionResolve, last.Kind)
	s.Equal("manual resolution", last.Detail)
}

func (s *OrchestratorSuite) TestResolveIllegalEdges() {
	err := s.orch.Resolve(s.ctx, id.NewIncidentID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	s.blocks.failErr = errors.New("store unavailable")
	outcome, perr := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(perr)

	// An open incident was never contained; resolving it skips the graph.
	err = s.orch.Resolve(s.ctx, *outcome.IncidentID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *OrchestratorSuite) TestResolveTwiceRejected() {
	outcome, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)

	s.Require().NoError(s.orch.Resolve(s.ctx, *outcome.IncidentID))
	err = s.orch.Resolve(s.ctx, *outcome.IncidentID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *OrchestratorSuite) TestStatsAndActive() {
	first, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)
	_, err = s.orch.Process(s.ctx, s.event("203.0.113.8", event.SeverityCritical, s.base.Add(time.Minute)))
	s.Require().NoError(err)

	s.Require().NoError(s.orch.Resolve(s.ctx, *first.IncidentID))

	stats := s.orch.Stats()
	s.Equal(2, stats.Total)
	s.Equal(1, stats.Contained)
	s.Equal(1, stats.Resolved)
	s.Equal(2, stats.Critical)

	active := s.orch.Active(50)
	s.Require().Len(active, 1)
	s.Equal("203.0.113.8", active[0].Actor)
}

func (s *OrchestratorSuite) TestActiveNewestFirstAndLimited() {
	for i := 0; i < 5; i++ {
		ip := "203.0.113." + string(rune('1'+i))
		_, err := s.orch.Process(s.ctx, s.event(ip, event.SeverityCritical, s.base.Add(time.Duration(i)*time.Minute)))
		s.Require().NoError(err)
	}

	active := s.orch.Active(3)
	s.Require().Len(active, 3)
	s.Equal("203.0.113.5", active[0].Actor)
	s.Equal("203.0.113.4", active[1].Actor)
	s.Equal("203.0.113.3", active[2].Actor)
}

func (s *OrchestratorSuite) TestBlockedIPs() {
	_, err := s.orch.Process(s.ctx, s.event("203.0.113.7", event.SeverityCritical, s.base))
	s.Require().NoError(err)

	s.Equal(1, s.orch.BlockedIPs(s.base.Add(time.Minute)))
	s.Zero(s.orch.BlockedIPs(s.base.Add(time.Hour)), "expired blocks drop out of the count")
}
