// Package httptransport wires the guard chain and the HTTP surface.
//
// Every route passes ClientMetadata and the blocklist check; from there each
// group applies its scope's rate limit, then session resolution, CSRF, and
// threat inspection before the business handler runs. Order matters: cheap
// identity checks reject hostile traffic before expensive ones run.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bastion/internal/csrf"
	"bastion/internal/incident"
	incidenthandler "bastion/internal/incident/handler"
	"bastion/internal/platform/middleware"
	"bastion/internal/platform/tracer"
	ratelimitmw "bastion/internal/ratelimit/middleware"
	"bastion/internal/ratelimit/models"
	"bastion/internal/threat"
	jsonResponse "bastion/internal/transport/http/json"
)

// RouterDeps carries everything the router needs. Kept explicit so main wires
// dependencies once and tests can substitute any guard.
type RouterDeps struct {
	Logger *slog.Logger
	Tracer tracer.Tracer

	Sessions    SessionVerifier
	CSRFGuard   *csrf.Guard
	Detector    *threat.Detector
	RateLimiter ratelimitmw.Limiter
	BlockStore  incident.BlockStore
	AdminTokens AdminTokenValidator
	Emitter     Emitter

	Auth     *AuthHandler
	Forms    *FormsHandler
	Incident *incidenthandler.Handler
}

// NewRouter assembles the full HTTP surface.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	rl := ratelimitmw.New(deps.RateLimiter, deps.Logger)
	if deps.Tracer == nil {
		deps.Tracer = tracer.NewNoop()
	}

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ClientMetadata)
	r.Use(traceGuardChain(deps.Tracer))
	r.Use(incident.BlockGuard(deps.BlockStore, deps.Logger))

	sessionMW := Session(deps.Sessions, deps.Logger)
	csrfMW := csrf.Middleware(deps.CSRFGuard, deps.Emitter, deps.Logger)
	threatMW := threat.Middleware(deps.Detector, deps.Emitter, deps.Logger, deps.Tracer)

	// Auth endpoints: login is anonymous by nature, logout rides a session.
	r.Group(func(r chi.Router) {
		r.Use(rl.RateLimit(models.ScopeAuth))
		r.Use(middleware.ContentTypeJSON)
		r.Use(sessionMW)
		r.Use(csrfMW)
		r.Use(threatMW)
		r.Post("/auth/login", deps.Auth.HandleLogin)
		r.Post("/auth/logout", deps.Auth.HandleLogout)
	})

	r.Group(func(r chi.Router) {
		r.Use(rl.RateLimit(models.ScopeRead))
		r.Use(sessionMW)
		r.Get("/auth/csrf", deps.Auth.HandleCSRFToken)
	})

	// Public mutating forms: the full guard chain.
	r.Group(func(r chi.Router) {
		r.Use(rl.RateLimit(models.ScopeContact))
		r.Use(middleware.ContentTypeJSON)
		r.Use(sessionMW)
		r.Use(csrfMW)
		r.Use(threatMW)
		r.Post("/forms/contact", deps.Forms.HandleContact)
	})

	r.Group(func(r chi.Router) {
		r.Use(rl.RateLimit(models.ScopeNewsletter))
		r.Use(middleware.ContentTypeJSON)
		r.Use(sessionMW)
		r.Use(csrfMW)
		r.Use(threatMW)
		r.Post("/forms/newsletter", deps.Forms.HandleNewsletter)
	})

	// Admin API: session or bearer gate, read/write limits split by method.
	adminMW := RequireAdmin(deps.AdminTokens, deps.Logger)
	r.Group(func(r chi.Router) {
		r.Use(rl.RateLimit(models.ScopeRead))
		r.Use(sessionMW)
		r.Use(adminMW)
		r.Get("/admin/incidents", deps.Incident.HandleOverview)
		r.Get("/admin/threat-metrics", deps.Incident.HandleThreatMetrics)
	})

	r.Group(func(r chi.Router) {
		r.Use(rl.RateLimit(models.ScopeWrite))
		r.Use(middleware.ContentTypeJSON)
		r.Use(sessionMW)
		r.Use(adminMW)
		r.Use(csrfMW)
		r.Post("/admin/incidents", deps.Incident.HandleCreate)
		r.Post("/admin/incidents/{incident_id}/resolve", deps.Incident.HandleResolve)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", handleHealthz)

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// traceGuardChain opens one span covering every guard plus the handler, so a
// rejected request shows which depth it reached.
func traceGuardChain(t tracer.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := t.Start(r.Context(), tracer.SpanGuardChain,
				tracer.String("http.method", r.Method),
				tracer.String("http.path", r.URL.Path),
			)
			defer span.End(nil)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
