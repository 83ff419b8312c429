// Package incident runs the detect, contain, escalate, resolve lifecycle.
//
// The orchestrator is the sole writer of incidents and the blocklist. It
// consumes bus events off the request path, applies containment, and sweeps
// contained incidents to resolution after a quiet cool-down window.
package incident

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bastion/internal/event"
	"bastion/internal/incident/metrics"
	"bastion/internal/platform/privacy"
	"bastion/internal/platform/tracer"
	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
)

// RateTightener shrinks an actor's rate budgets during containment.
// The ratelimit service implements it.
type RateTightener interface {
	TightenActor(ip string, until time.Time)
}

// Emitter publishes events back onto the bus (system_error reporting).
type Emitter interface {
	Emit(ctx context.Context, e event.Event) error
}

// Pruner trims the bus's rolling retention window. Incident snapshots are
// independent copies, so pruning cannot rewrite incident history.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Config carries the orchestrator's thresholds.
type Config struct {
	// CooldownWindow is both the repeat-offense window for high-severity
	// qualification and the quiet period before automatic resolution.
	CooldownWindow time.Duration
	// BlockTTL bounds how long a containment block lasts.
	BlockTTL time.Duration
	// HighEventThreshold is how many high events within the cool-down window
	// qualify an actor when no single event is critical.
	HighEventThreshold int
	// EventRetention is the bus's rolling window, enforced by the sweep loop.
	EventRetention time.Duration
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig mirrors the deployment defaults.
func DefaultConfig() Config {
	return Config{
		CooldownWindow:     15 * time.Minute,
		BlockTTL:           30 * time.Minute,
		HighEventThreshold: 3,
		EventRetention:     48 * time.Hour,
		SweepInterval:      time.Minute,
	}
}

// Orchestrator owns the incident set and the blocklist.
type Orchestrator struct {
	cfg     Config
	blocks  BlockStore
	limiter RateTightener
	emitter Emitter
	pruner  Pruner
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer

	newIncidentID func() id.IncidentID

	// queue decouples bus fan-out from processing so Emit never blocks a
	// request on incident work. A single consumer goroutine drains it, which
	// also serializes processing.
	queue chan event.Event

	mu        sync.Mutex
	incidents map[id.IncidentID]*Incident
	byActor   map[string]id.IncidentID     // actor -> active incident
	highWater map[string]time.Time         // actor -> latest processed event timestamp
	recent    map[string][]event.Event     // actor -> qualifying highs within cool-down
	seen      map[id.EventID]time.Time     // processed event IDs, for at-most-once handling
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer for processing and containment spans.
func WithTracer(t tracer.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithEmitter wires the bus for system_error reporting.
func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithPruner wires bus retention into the sweep loop.
func WithPruner(p Pruner) Option {
	return func(o *Orchestrator) { o.pruner = p }
}

// WithIncidentIDFunc overrides incident ID generation for deterministic tests.
func WithIncidentIDFunc(fn func() id.IncidentID) Option {
	return func(o *Orchestrator) { o.newIncidentID = fn }
}

// WithQueueSize overrides the event queue capacity.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queue = make(chan event.Event, n)
		}
	}
}

// New creates an orchestrator over the given blocklist and rate tightener.
func New(cfg Config, blocks BlockStore, limiter RateTightener, opts ...Option) (*Orchestrator, error) {
	if blocks == nil {
		return nil, errors.New("block store is required")
	}
	if limiter == nil {
		return nil, errors.New("rate tightener is required")
	}
	if cfg.CooldownWindow <= 0 || cfg.BlockTTL <= 0 || cfg.HighEventThreshold <= 0 {
		return nil, errors.New("invalid orchestrator config")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	o := &Orchestrator{
		cfg:           cfg,
		blocks:        blocks,
		limiter:       limiter,
		tracer:        tracer.NewNoop(),
		newIncidentID: id.NewIncidentID,
		queue:         make(chan event.Event, 256),
		incidents:     make(map[id.IncidentID]*Incident),
		byActor:       make(map[string]id.IncidentID),
		highWater:     make(map[string]time.Time),
		recent:        make(map[string][]event.Event),
		seen:          make(map[id.EventID]time.Time),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// OnEvent implements event.Subscriber. It must not block the publisher, so a
// full queue drops the event with a log line; the bus still has the record.
func (o *Orchestrator) OnEvent(e event.Event) {
	select {
	case o.queue <- e:
	default:
		if o.logger != nil {
			o.logger.Warn("incident queue full, event dropped",
				"type", e.Type,
				"ip_prefix", privacy.AnonymizeIP(e.ClientIP),
			)
		}
	}
}

// Run drains the event queue and runs the periodic sweep until ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case e := <-o.queue:
				if _, err := o.Process(ctx, e); err != nil && o.logger != nil {
					o.logger.Error("failed to process security event",
						"error", err,
						"type", e.Type,
					)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				o.Sweep(ctx, now)
			}
		}
	})

	return g.Wait()
}

// Process applies one event to the incident state machine and returns what
// happened. Safe to call directly (the admin creation API does); duplicate
// event IDs are no-ops so direct and subscribed paths cannot double-fire.
func (o *Orchestrator) Process(ctx context.Context, e event.Event) (*Outcome, error) {
	ctx, span := o.tracer.Start(ctx, tracer.SpanIncidentProcess,
		tracer.String("event_type", e.Type.String()),
		tracer.String("severity", e.Severity.String()),
	)
	outcome := &Outcome{}
	var err error
	defer func() { span.End(err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, dup := o.seen[e.ID]; dup {
		return outcome, nil
	}
	o.seen[e.ID] = e.Timestamp

	actor := e.ClientIP

	// Ordering guard: an event older than the actor's high-water mark was
	// already superseded by later processing. It stays on the bus for analytics
	// but must not move the state machine (a resolved incident must never be
	// reopened by it).
	if hw, ok := o.highWater[actor]; ok && e.Timestamp.Before(hw) {
		return outcome, nil
	}
	o.highWater[actor] = e.Timestamp

	if !e.Qualifying() {
		return outcome, nil
	}

	if activeID, ok := o.byActor[actor]; ok {
		inc := o.incidents[activeID]
		outcome.IncidentID = &inc.ID
		inc.absorb(e)

		if inc.Status == StatusContained {
			// Automation already acted and the actor came back: hand off.
			if terr := inc.transitionTo(StatusEscalated, e.Timestamp); terr == nil {
				inc.recordAction(ActionEscalate, actor, true, "qualifying event during containment", e.Timestamp)
				if o.metrics != nil {
					o.metrics.RecordEscalation()
				}
				if o.logger != nil {
					o.logger.WarnContext(ctx, "incident escalated",
						"incident_id", inc.ID.String(),
						"ip_prefix", privacy.AnonymizeIP(actor),
					)
				}
			}
		}
		o.syncGauges()
		return outcome, nil
	}

	// No active incident: qualification check.
	if e.Severity != event.SeverityCritical {
		o.recent[actor] = appendWithinWindow(o.recent[actor], e, o.cfg.CooldownWindow)
		if len(o.recent[actor]) < o.cfg.HighEventThreshold {
			return outcome, nil
		}
	}

	trigger := []event.Event{e}
	if e.Severity != event.SeverityCritical {
		trigger = o.recent[actor]
	}
	delete(o.recent, actor)

	inc, cerr := newIncident(o.newIncidentID(), actor, trigger, e.Timestamp)
	if cerr != nil {
		err = cerr
		return outcome, err
	}
	o.incidents[inc.ID] = inc
	o.byActor[actor] = inc.ID
	outcome.IncidentID = &inc.ID
	if o.metrics != nil {
		o.metrics.RecordIncidentCreated(inc.Severity.String())
	}
	if o.logger != nil {
		o.logger.WarnContext(ctx, "incident opened",
			"incident_id", inc.ID.String(),
			"severity", inc.Severity,
			"ip_prefix", privacy.AnonymizeIP(actor),
		)
	}

	o.contain(ctx, inc, e.Timestamp, outcome)
	o.syncGauges()
	return outcome, nil
}

// contain applies automated containment: block the actor and tighten its rate
// limits. Containment is best-effort; a failed block leaves the incident open
// and records a system_error rather than claiming a containment that did not
// happen.
func (o *Orchestrator) contain(ctx context.Context, inc *Incident, now time.Time, outcome *Outcome) {
	ctx, span := o.tracer.Start(ctx, tracer.SpanContainment,
		tracer.String("incident_id", inc.ID.String()),
	)
	defer span.End(nil)

	blocked := true
	berr := o.blocks.Put(ctx, BlockEntry{
		IP:        inc.Actor,
		Reason:    "automated containment for incident " + inc.ID.String(),
		ExpiresAt: now.Add(o.cfg.BlockTTL),
	})
	if berr != nil {
		blocked = false
		inc.recordAction(ActionBlockIP, inc.Actor, false, berr.Error(), now)
		if o.metrics != nil {
			o.metrics.RecordContainmentFailure()
		}
		if o.logger != nil {
			o.logger.ErrorContext(ctx, "containment block failed",
				"error", berr,
				"incident_id", inc.ID.String(),
			)
		}
		o.emitSystemError(ctx, inc, berr)
	} else {
		inc.recordAction(ActionBlockIP, inc.Actor, true, "", now)
	}

	o.limiter.TightenActor(inc.Actor, now.Add(o.cfg.BlockTTL))
	inc.recordAction(ActionTightenRate, inc.Actor, true, "", now)

	if blocked {
		if terr := inc.transitionTo(StatusContained, now); terr == nil && o.metrics != nil {
			o.metrics.RecordContainment()
		}
	}

	outcome.Actions = append([]Action(nil), inc.ActionsTaken...)
	outcome.Blocked = blocked
}

// Resolve closes an incident by hand. This is the only way out of escalated;
// illegal edges (resolved incidents, open ones that were never contained)
// come back as invariant violations.
func (o *Orchestrator) Resolve(ctx context.Context, incidentID id.IncidentID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	inc, ok := o.incidents[incidentID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "incident not found")
	}
	now := time.Now()
	if err := inc.transitionTo(StatusResolved, now); err != nil {
		return err
	}
	inc.recordAction(ActionResolve, inc.Actor, true, "manual resolution", now)
	delete(o.byActor, inc.Actor)
	if o.logger != nil {
		o.logger.InfoContext(ctx, "incident resolved",
			"incident_id", inc.ID.String(),
		)
	}
	o.syncGauges()
	return nil
}

// Sweep resolves contained incidents whose actors stayed quiet through the
// cool-down window, prunes bookkeeping, and enforces bus retention.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) {
	o.mu.Lock()
	for _, inc := range o.incidents {
		if inc.Status != StatusContained {
			continue
		}
		if now.Sub(inc.LastQualifyingAt) < o.cfg.CooldownWindow {
			continue
		}
		if err := inc.transitionTo(StatusResolved, now); err != nil {
			continue
		}
		inc.recordAction(ActionResolve, inc.Actor, true, "cool-down elapsed", now)
		delete(o.byActor, inc.Actor)
		if o.logger != nil {
			o.logger.Info("incident auto-resolved after cool-down",
				"incident_id", inc.ID.String(),
			)
		}
	}

	// Trim per-actor bookkeeping and the dedup set.
	for actor, events := range o.recent {
		o.recent[actor] = pruneWindow(events, now, o.cfg.CooldownWindow)
		if len(o.recent[actor]) == 0 {
			delete(o.recent, actor)
		}
	}
	for eventID, ts := range o.seen {
		if now.Sub(ts) > o.cfg.EventRetention {
			delete(o.seen, eventID)
		}
	}
	o.syncGauges()
	o.mu.Unlock()

	if o.pruner != nil {
		if _, err := o.pruner.Prune(ctx, now.Add(-o.cfg.EventRetention)); err != nil && o.logger != nil {
			o.logger.Error("failed to prune event retention", "error", err)
		}
	}
}

// Get returns a snapshot of one incident.
func (o *Orchestrator) Get(incidentID id.IncidentID) (Incident, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inc, ok := o.incidents[incidentID]
	if !ok {
		return Incident{}, false
	}
	return snapshot(inc), true
}

// Stats aggregates lifecycle counts.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	var s Stats
	for _, inc := range o.incidents {
		s.Total++
		switch inc.Status {
		case StatusOpen:
			s.Open++
		case StatusContained:
			s.Contained++
		case StatusEscalated:
			s.Escalated++
		case StatusResolved:
			s.Resolved++
		}
		if inc.Severity == event.SeverityCritical {
			s.Critical++
		}
	}
	return s
}

// Active returns up to limit active incidents, newest first.
func (o *Orchestrator) Active(limit int) []Incident {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Incident
	for _, inc := range o.incidents {
		if inc.Status.Active() {
			out = append(out, snapshot(inc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BlockedIPs reports the live blocklist size for the health counters.
func (o *Orchestrator) BlockedIPs(now time.Time) int {
	return o.blocks.ActiveCount(now)
}

func (o *Orchestrator) emitSystemError(ctx context.Context, inc *Incident, cause error) {
	if o.emitter == nil {
		return
	}
	e, err := event.New(event.TypeSystemError, event.SeverityMedium, inc.Actor, "", map[string]any{
		"incident_id": inc.ID.String(),
		"cause":       cause.Error(),
	})
	if err == nil {
		_ = o.emitter.Emit(ctx, e)
	}
}

func (o *Orchestrator) syncGauges() {
	if o.metrics == nil {
		return
	}
	var active int
	for _, inc := range o.incidents {
		if inc.Status.Active() {
			active++
		}
	}
	o.metrics.SetActiveIncidents(active)
}

func snapshot(inc *Incident) Incident {
	cp := *inc
	cp.TriggeringEvents = append([]event.Event(nil), inc.TriggeringEvents...)
	cp.ActionsTaken = append([]Action(nil), inc.ActionsTaken...)
	return cp
}

func appendWithinWindow(events []event.Event, e event.Event, window time.Duration) []event.Event {
	events = append(events, e)
	return pruneWindow(events, e.Timestamp, window)
}

func pruneWindow(events []event.Event, now time.Time, window time.Duration) []event.Event {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(events); i++ {
		if events[i].Timestamp.After(cutoff) {
			break
		}
	}
	return events[i:]
}
