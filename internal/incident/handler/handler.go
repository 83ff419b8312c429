// Package handler serves the admin incident-response API. Routes here sit
// behind the admin gate in the router; nothing in this package re-checks roles.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bastion/internal/analytics"
	"bastion/internal/event"
	"bastion/internal/incident"
	jsonResponse "bastion/internal/transport/http/json"
	httpError "bastion/internal/transport/http/shared"
	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
	"bastion/pkg/requestcontext"
)

// activePageLimit bounds the incident list in the overview response.
const activePageLimit = 50

// healthLookback is the window for the rate-limited-actors health counter.
const healthLookback = 15 * time.Minute

// Orchestrator is the incident service surface the handler needs.
type Orchestrator interface {
	Process(ctx context.Context, e event.Event) (*incident.Outcome, error)
	Resolve(ctx context.Context, incidentID id.IncidentID) error
	Stats() incident.Stats
	Active(limit int) []incident.Incident
	BlockedIPs(now time.Time) int
}

// RateLimitHealth reports how many actors were recently rate limited.
type RateLimitHealth interface {
	RateLimitedIPs(now time.Time, within time.Duration) int
}

// Analytics is the read-only threat landscape surface.
type Analytics interface {
	ThreatMetrics(ctx context.Context, now time.Time) (analytics.Metrics, error)
}

// Emitter publishes events to the bus.
type Emitter interface {
	Emit(ctx context.Context, e event.Event) error
}

type Handler struct {
	orchestrator Orchestrator
	ratelimit    RateLimitHealth
	analytics    Analytics
	emitter      Emitter
	logger       *slog.Logger
}

func New(orchestrator Orchestrator, ratelimit RateLimitHealth, analyticsSvc Analytics, emitter Emitter, logger *slog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		ratelimit:    ratelimit,
		analytics:    analyticsSvc,
		emitter:      emitter,
		logger:       logger,
	}
}

// HandleOverview implements GET /admin/incidents: aggregate counts, a bounded
// page of active incidents, and system health counters.
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := requestcontext.Now(ctx)

	jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{
		"stats":     h.orchestrator.Stats(),
		"incidents": h.orchestrator.Active(activePageLimit),
		"health": map[string]any{
			"blockedIPs":     h.orchestrator.BlockedIPs(now),
			"rateLimitedIPs": h.ratelimit.RateLimitedIPs(now, healthLookback),
		},
	})
}

// HandleCreate implements POST /admin/incidents. The request synthesizes a
// security event and feeds it to the orchestrator synchronously, so the caller
// sees the containment outcome in the response. The event also goes onto the
// bus under the same ID; the orchestrator's dedup keeps the subscribed
// delivery from firing twice.
//
// Input: { "type": "...", "severity": "...", "clientIp": "...", "path": "...", "details": {...} }
// Output: { "incidentId": "...", "actions": [...], "blocked": true }
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req struct {
		Type     string         `json:"type"`
		Severity string         `json:"severity"`
		ClientIP string         `json:"clientIp"`
		Path     string         `json:"path"`
		Details  map[string]any `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON in request body"))
		return
	}

	eventType, err := event.ParseType(req.Type)
	if err != nil {
		httpError.WriteError(w, err)
		return
	}
	severity, err := event.ParseSeverity(req.Severity)
	if err != nil {
		httpError.WriteError(w, err)
		return
	}

	e, err := event.New(eventType, severity, req.ClientIP, req.Path, req.Details)
	if err != nil {
		httpError.WriteError(w, err)
		return
	}
	e.ID = id.NewEventID()
	e.Timestamp = requestcontext.Now(ctx)

	outcome, err := h.orchestrator.Process(ctx, e)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to process synthesized event",
			"error", err,
			"request_id", requestID,
		)
		httpError.WriteError(w, err)
		return
	}
	_ = h.emitter.Emit(ctx, e)

	h.logger.InfoContext(ctx, "incident event synthesized via admin API",
		"type", eventType,
		"severity", severity,
		"request_id", requestID,
	)

	jsonResponse.WriteJSON(w, http.StatusOK, outcome)
}

// HandleResolve implements POST /admin/incidents/{incident_id}/resolve.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	incidentID, err := id.ParseIncidentID(chi.URLParam(r, "incident_id"))
	if err != nil {
		httpError.WriteError(w, err)
		return
	}

	if err := h.orchestrator.Resolve(ctx, incidentID); err != nil {
		h.logger.WarnContext(ctx, "incident resolution rejected",
			"error", err,
			"incident_id", incidentID.String(),
			"request_id", requestID,
		)
		httpError.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "incident resolved via admin API",
		"incident_id", incidentID.String(),
		"request_id", requestID,
	)

	jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleThreatMetrics implements GET /admin/threat-metrics.
func (h *Handler) HandleThreatMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, err := h.analytics.ThreatMetrics(ctx, requestcontext.Now(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to compute threat metrics",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httpError.WriteError(w, err)
		return
	}

	jsonResponse.WriteJSON(w, http.StatusOK, m)
}
