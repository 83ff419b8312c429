package csrf

import (
	"context"
	"log/slog"
	"net/http"

	"bastion/internal/event"
	"bastion/pkg/requestcontext"
)

// HeaderName is the request header carrying the client's CSRF token copy.
const HeaderName = "X-CSRF-Token"

// Emitter publishes security events; the bus publisher satisfies it.
type Emitter interface {
	Emit(ctx context.Context, e event.Event) error
}

// Middleware enforces CSRF verification on state-mutating requests.
//
// Safe methods bypass entirely. Requests without a session are also exempt:
// CSRF rides an ambient session cookie, and with no session there is nothing
// to ride. Everything else must present a matching, unexpired token or the
// request is rejected before business logic, with a csrf_violation event.
func Middleware(guard *Guard, emitter Emitter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			sessionID, ok := requestcontext.SessionID(ctx)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if guard.Verify(ctx, sessionID.String(), r.Header.Get(HeaderName)) {
				next.ServeHTTP(w, r)
				return
			}

			logger.WarnContext(ctx, "csrf verification failed",
				"path", r.URL.Path,
				"request_id", requestcontext.RequestID(ctx),
			)

			e, err := event.New(event.TypeCSRFViolation, event.SeverityMedium,
				requestcontext.ClientIP(ctx), r.URL.Path, map[string]any{
					"method": r.Method,
					"device": requestcontext.DeviceInfo(ctx),
				})
			if err == nil {
				_ = emitter.Emit(ctx, e)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"success":false,"error":"csrf_violation"}`))
		})
	}
}
