// Package service enforces per-IP, per-route-scope fixed-window rate limits.
//
// Usage:
//
//	svc, _ := service.New(counterStore)
//	result, _ := svc.Check(ctx, clientIP, models.ScopeContact, "/forms/contact")
//	if !result.Allowed {
//	    // Return 429 Too Many Requests
//	}
//
// Containment can tighten an individual actor's limits via TightenActor;
// overrides expire on their own and are consulted before the scope config.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bastion/internal/event"
	"bastion/internal/platform/privacy"
	"bastion/internal/platform/tracer"
	"bastion/internal/ratelimit/config"
	"bastion/internal/ratelimit/metrics"
	"bastion/internal/ratelimit/models"
	dErrors "bastion/pkg/domain-errors"
	"bastion/pkg/requestcontext"
)

// tightenDivisor is how much a contained actor's budget shrinks.
const tightenDivisor = 4

// CounterStore applies fixed-window consume operations.
type CounterStore interface {
	TryConsume(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Emitter publishes security events; the bus publisher satisfies it.
type Emitter interface {
	Emit(ctx context.Context, e event.Event) error
}

type override struct {
	until time.Time
}

// Service is the rate limiting entry point for middleware. Thread-safe.
type Service struct {
	counters CounterStore
	config   *config.Config
	emitter  Emitter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer

	mu          sync.RWMutex
	overrides   map[string]override  // actor ip -> tightened until
	lastDenials map[string]time.Time // actor ip -> last denial
}

// Option configures a Service instance.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithEmitter sets the security event publisher.
func WithEmitter(e Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithConfig overrides the default per-scope limits.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) { s.config = cfg }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer for check spans.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// New creates a rate limiting service over the given counter store.
func New(counters CounterStore, opts ...Option) (*Service, error) {
	if counters == nil {
		return nil, errors.New("counter store is required")
	}
	s := &Service{
		counters:    counters,
		config:      config.DefaultConfig(),
		tracer:      tracer.NewNoop(),
		overrides:   make(map[string]override),
		lastDenials: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Check consumes one request from the actor's fixed window for the scope.
// A missing scope configuration is default-deny. Denials emit a rate_limit
// event with the observed request count and the limit.
func (s *Service) Check(ctx context.Context, ip string, scope models.RouteScope, path string) (*models.Result, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRateLimitCheck,
		tracer.String("scope", scope.String()),
	)
	var err error
	defer func() { span.End(err) }()

	limit, ok := s.config.GetLimit(scope)
	if !ok {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "rate limit scope not configured, denying",
				"scope", scope,
				"ip_prefix", privacy.AnonymizeIP(ip),
			)
		}
		return &models.Result{
			Allowed:    false,
			ResetAt:    requestcontext.Now(ctx),
			RetryAfter: 60,
		}, nil
	}

	requests := limit.Requests
	if s.tightened(ip, requestcontext.Now(ctx)) {
		requests = requests / tightenDivisor
		if requests < 1 {
			requests = 1
		}
	}

	key := models.NewKey(ip, scope)
	result, err := s.counters.TryConsume(ctx, key.String(), requests, limit.Window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}

	if s.metrics != nil {
		s.metrics.RecordCheck(scope.String(), result.Allowed)
	}

	if !result.Allowed {
		s.recordDenial(ip, requestcontext.Now(ctx))
		if s.logger != nil {
			s.logger.WarnContext(ctx, "rate limit exceeded",
				"scope", scope,
				"ip_prefix", privacy.AnonymizeIP(ip),
				"limit", requests,
			)
		}
		if s.emitter != nil {
			e, eventErr := event.New(event.TypeRateLimit, event.SeverityLow, ip, path, map[string]any{
				"requests": requests - result.Remaining,
				"limit":    requests,
				"scope":    scope.String(),
			})
			if eventErr == nil {
				_ = s.emitter.Emit(ctx, e)
			}
		}
	}

	return result, nil
}

// TightenActor shrinks the actor's budgets until the deadline. Called by
// incident containment; idempotent, and a later deadline wins.
func (s *Service) TightenActor(ip string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.overrides[ip]; ok && cur.until.After(until) {
		return
	}
	s.overrides[ip] = override{until: until}
	if s.metrics != nil {
		s.metrics.SetActiveOverrides(len(s.overrides))
	}
}

// RateLimitedIPs counts actors denied within the lookback window. Feeds the
// admin system-health counters.
func (s *Service) RateLimitedIPs(now time.Time, within time.Duration) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, at := range s.lastDenials {
		if now.Sub(at) <= within {
			n++
		}
	}
	return n
}

func (s *Service) tightened(ip string, now time.Time) bool {
	s.mu.RLock()
	o, ok := s.overrides[ip]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if now.After(o.until) {
		s.mu.Lock()
		if cur, still := s.overrides[ip]; still && now.After(cur.until) {
			delete(s.overrides, ip)
			if s.metrics != nil {
				s.metrics.SetActiveOverrides(len(s.overrides))
			}
		}
		s.mu.Unlock()
		return false
	}
	return true
}

func (s *Service) recordDenial(ip string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDenials[ip] = now
	// Opportunistic cleanup so the map does not grow unbounded.
	if len(s.lastDenials) > 4096 {
		for k, at := range s.lastDenials {
			if now.Sub(at) > time.Hour {
				delete(s.lastDenials, k)
			}
		}
	}
}
