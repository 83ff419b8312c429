package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"bastion/internal/apitoken"
	"bastion/internal/credential"
	"bastion/pkg/requestcontext"
)

// SessionCookieName carries the sealed session token. HttpOnly always; Secure
// in production.
const SessionCookieName = "bastion_session"

type claimsKey struct{}

func withClaims(ctx context.Context, claims credential.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// SessionClaims returns the verified session claims for the request, if any.
func SessionClaims(ctx context.Context) (credential.Claims, bool) {
	v, ok := ctx.Value(claimsKey{}).(credential.Claims)
	return v, ok
}

// SessionVerifier is the credential store surface the session middleware needs.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (credential.Claims, error)
}

// Session resolves the session cookie into request context. A missing, invalid,
// or expired cookie leaves the request anonymous rather than rejecting it;
// routes that need a session enforce that themselves via RequireSession.
func Session(sessions SessionVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			claims, err := sessions.Verify(ctx, cookie.Value)
			if err != nil {
				logger.WarnContext(ctx, "session verification failed",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			ctx = withClaims(ctx, claims)
			ctx = requestcontext.WithSubjectID(ctx, claims.SubjectID)
			ctx = requestcontext.WithSessionID(ctx, claims.SessionID)
			ctx = requestcontext.WithRole(ctx, claims.Role.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects anonymous requests with 401.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionClaims(r.Context()); !ok {
			writeError(w, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminTokenValidator is the apitoken service surface for bearer auth.
type AdminTokenValidator interface {
	Validate(tokenString string) (*apitoken.OpsTokenClaims, error)
}

// RequireAdmin gates the admin API. Access needs either an admin session or an
// admin-scoped bearer token; anything else gets the not-found shape so the
// admin surface does not confirm its own existence to probes.
func RequireAdmin(tokens AdminTokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if claims, ok := SessionClaims(ctx); ok && claims.Role == credential.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}

			if bearer := bearerToken(r); bearer != "" && tokens != nil {
				claims, err := tokens.Validate(bearer)
				if err == nil && claims.Role == credential.RoleAdmin.String() {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.WarnContext(ctx, "admin access denied",
				"path", r.URL.Path,
				"request_id", requestcontext.RequestID(ctx),
			)
			writeNotFound(w)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
