// Package shared centralizes domain error translation for HTTP handlers.
package shared

import (
	"net/http"

	jsonResponse "bastion/internal/transport/http/json"
	dErrors "bastion/pkg/domain-errors"
	httpErrors "bastion/pkg/http-errors"
)

// WriteError translates a domain error into the guard chain's JSON envelope.
// The body carries the stable domain code and nothing else, so a rejection
// never leaks which internal check produced it beyond its class.
func WriteError(w http.ResponseWriter, err error) {
	code := httpErrors.CodeOf(err)
	jsonResponse.WriteJSON(w, httpErrors.ToHTTPStatus(code), map[string]any{
		"success": false,
		"error":   string(code),
	})
}

// WriteNotFound is the non-leaking rejection for admin routes: an unauthorized
// caller sees the same response as for a route that does not exist.
func WriteNotFound(w http.ResponseWriter) {
	jsonResponse.WriteJSON(w, http.StatusNotFound, map[string]any{
		"success": false,
		"error":   string(dErrors.CodeNotFound),
	})
}
