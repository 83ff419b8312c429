package incident

import (
	"log/slog"
	"net/http"

	"bastion/internal/platform/privacy"
	"bastion/pkg/requestcontext"
)

// BlockGuard rejects requests from contained actors before any other guard
// runs. The store fails open: a lookup error must not take the site down, it
// only loses one containment check.
func BlockGuard(blocks BlockStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			blocked, err := blocks.IsBlocked(ctx, ip, requestcontext.Now(ctx))
			if err != nil {
				logger.ErrorContext(ctx, "blocklist lookup failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !blocked {
				next.ServeHTTP(w, r)
				return
			}

			logger.WarnContext(ctx, "blocked actor rejected",
				"ip_prefix", privacy.AnonymizeIP(ip),
				"path", r.URL.Path,
				"request_id", requestcontext.RequestID(ctx),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfterHint)
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"success":false,"error":"forbidden"}`))
		})
	}
}

// retryAfterHint is deliberately coarse so the response does not leak the
// exact block expiry to the actor.
const retryAfterHint = "300"
