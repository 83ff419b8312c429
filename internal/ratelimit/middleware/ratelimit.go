package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"bastion/internal/platform/privacy"
	"bastion/internal/ratelimit/models"
	"bastion/pkg/requestcontext"
)

// Limiter is the service surface the middleware needs.
type Limiter interface {
	Check(ctx context.Context, ip string, scope models.RouteScope, path string) (*models.Result, error)
}

type Middleware struct {
	limiter Limiter
	logger  *slog.Logger
}

func New(limiter Limiter, logger *slog.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		logger:  logger,
	}
}

// RateLimit enforces the scope's fixed-window limit per client IP. A limiter
// failure fails open: availability of the site beats a broken counter store,
// and the system_error path is recorded by the service itself.
func (m *Middleware) RateLimit(scope models.RouteScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.limiter.Check(ctx, ip, scope, r.URL.Path)
			if err != nil {
				m.logger.Error("failed to check rate limit", "error", err, "ip_prefix", privacy.AnonymizeIP(ip))
				next.ServeHTTP(w, r)
				return
			}

			// Add headers regardless of outcome.
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   false,
		"error":     "rate_limited",
		"resetTime": result.ResetAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}
