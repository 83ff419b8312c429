package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	jsonResponse "bastion/internal/transport/http/json"
	dErrors "bastion/pkg/domain-errors"
	"bastion/pkg/requestcontext"
)

const (
	maxNameLen    = 200
	maxMessageLen = 5000
)

// FormsHandler serves the public mutating endpoints behind the full guard
// chain. Delivery (mail, CRM) is out of scope; by the time these run, the
// request has already cleared blocklist, rate limit, CSRF, and threat checks.
type FormsHandler struct {
	logger *slog.Logger
}

func NewFormsHandler(logger *slog.Logger) *FormsHandler {
	return &FormsHandler{logger: logger}
}

// HandleContact implements POST /forms/contact.
//
// Input: { "name": "...", "email": "...", "message": "..." }
func (h *FormsHandler) HandleContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON in request body"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Name == "" || len(req.Name) > maxNameLen:
		writeError(w, dErrors.New(dErrors.CodeValidation, "name is required and must be at most 200 characters"))
		return
	case req.Message == "" || len(req.Message) > maxMessageLen:
		writeError(w, dErrors.New(dErrors.CodeValidation, "message is required and must be at most 5000 characters"))
		return
	case !validEmail(req.Email):
		writeError(w, dErrors.New(dErrors.CodeValidation, "a valid email is required"))
		return
	}

	h.logger.InfoContext(ctx, "contact form accepted",
		"request_id", requestcontext.RequestID(ctx),
	)

	jsonResponse.WriteJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Thanks for reaching out. We'll reply within one business day.",
	})
}

// HandleNewsletter implements POST /forms/newsletter.
//
// Input: { "email": "..." }
func (h *FormsHandler) HandleNewsletter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON in request body"))
		return
	}
	if !validEmail(req.Email) {
		writeError(w, dErrors.New(dErrors.CodeValidation, "a valid email is required"))
		return
	}

	h.logger.InfoContext(ctx, "newsletter signup accepted",
		"request_id", requestcontext.RequestID(ctx),
	)

	jsonResponse.WriteJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Subscribed. Watch your inbox for study tips.",
	})
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 320 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
