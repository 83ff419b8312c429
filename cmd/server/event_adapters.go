package main

import (
	"context"
	"log/slog"

	"bastion/internal/event"
	"bastion/pkg/requestcontext"
)

// sessionEventEmitter adapts the bus publisher to the credential store's
// revocation hook. The scope is a session ID, not a client address, so the
// client IP comes from request context inside the event constructor's caller;
// here the revoked scope itself is the interesting datum.
type sessionEventEmitter struct {
	bus    *event.Publisher
	logger *slog.Logger
}

func (a *sessionEventEmitter) EmitSessionRevoked(ctx context.Context, scope string) {
	e, err := event.New(event.TypeSessionRevoked, event.SeverityLow, requestcontext.ClientIP(ctx), "", map[string]any{
		"scope": scope,
	})
	if err != nil {
		a.logger.Warn("failed to build session_revoked event", "error", err)
		return
	}
	if err := a.bus.Emit(ctx, e); err != nil {
		a.logger.Warn("failed to emit session_revoked event", "error", err)
	}
}
