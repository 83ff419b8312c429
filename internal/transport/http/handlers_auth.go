package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bastion/internal/credential"
	"bastion/internal/csrf"
	"bastion/internal/event"
	"bastion/internal/platform/privacy"
	jsonResponse "bastion/internal/transport/http/json"
	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
	"bastion/pkg/requestcontext"
)

// Authenticator checks login credentials; the credential directory implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (id.SubjectID, credential.Role, error)
}

// SessionIssuer is the credential store surface for login and logout.
type SessionIssuer interface {
	Issue(ctx context.Context, subjectID id.SubjectID, role credential.Role) (string, credential.Claims, error)
	Revoke(ctx context.Context, claims credential.Claims)
}

// CSRFIssuer hands out per-scope anti-forgery tokens.
type CSRFIssuer interface {
	IssueToken(ctx context.Context, scope string) (csrf.Token, error)
}

// Emitter publishes security events; the bus publisher satisfies it.
type Emitter interface {
	Emit(ctx context.Context, e event.Event) error
}

// AuthHandler serves login, logout, and the CSRF token endpoint.
type AuthHandler struct {
	directory  Authenticator
	sessions   SessionIssuer
	csrf       CSRFIssuer
	emitter    Emitter
	logger     *slog.Logger
	sessionTTL time.Duration
	production bool
}

func NewAuthHandler(
	directory Authenticator,
	sessions SessionIssuer,
	csrfGuard CSRFIssuer,
	emitter Emitter,
	logger *slog.Logger,
	sessionTTL time.Duration,
	production bool,
) *AuthHandler {
	return &AuthHandler{
		directory:  directory,
		sessions:   sessions,
		csrf:       csrfGuard,
		emitter:    emitter,
		logger:     logger,
		sessionTTL: sessionTTL,
		production: production,
	}
}

// HandleLogin implements POST /auth/login.
//
// Input: { "email": "...", "password": "..." }
// Output: { "success": true, "role": "...", "csrfToken": "...", "expiresAt": "..." }
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON in request body"))
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "email and password are required"))
		return
	}

	subjectID, role, err := h.directory.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"ip_prefix", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
			"request_id", requestID,
		)
		h.emitAuthFailure(ctx, r.URL.Path)
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials"))
		return
	}

	token, claims, err := h.sessions.Issue(ctx, subjectID, role)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue session",
			"error", err,
			"request_id", requestID,
		)
		writeError(w, err)
		return
	}

	csrfToken, err := h.csrf.IssueToken(ctx, claims.Scope())
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue csrf token",
			"error", err,
			"request_id", requestID,
		)
		writeError(w, err)
		return
	}

	h.setSessionCookie(w, token, int(h.sessionTTL.Seconds()))

	h.logger.InfoContext(ctx, "login successful",
		"subject_id", subjectID.String(),
		"role", role,
		"request_id", requestID,
	)

	jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"role":      role,
		"csrfToken": csrfToken.Value,
		"expiresAt": claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// HandleLogout implements POST /auth/logout. Requires a session; the CSRF
// guard has already run by the time this executes.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := SessionClaims(ctx)
	if !ok {
		writeError(w, errUnauthorized)
		return
	}

	h.sessions.Revoke(ctx, claims)
	h.setSessionCookie(w, "", -1)

	h.logger.InfoContext(ctx, "logout successful",
		"request_id", requestcontext.RequestID(ctx),
	)

	jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleCSRFToken implements GET /auth/csrf. Reissue overwrites the scope's
// previous token, so at most one token per session is ever valid.
func (h *AuthHandler) HandleCSRFToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := SessionClaims(ctx)
	if !ok {
		writeError(w, errUnauthorized)
		return
	}

	token, err := h.csrf.IssueToken(ctx, claims.Scope())
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue csrf token",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		writeError(w, err)
		return
	}

	expiresIn := int(token.ExpiresAt.Sub(requestcontext.Now(ctx)).Seconds())
	w.Header().Set("Cache-Control", "no-store")
	jsonResponse.WriteJSON(w, http.StatusOK, map[string]any{
		"token":     token.Value,
		"expiresIn": expiresIn,
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) emitAuthFailure(ctx context.Context, path string) {
	e, err := event.New(event.TypeAuthFailure, event.SeverityMedium,
		requestcontext.ClientIP(ctx), path, map[string]any{
			"device": requestcontext.DeviceInfo(ctx),
		})
	if err == nil {
		_ = h.emitter.Emit(ctx, e)
	}
}
