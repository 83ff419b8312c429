package httptransport

import (
	"net/http"

	"bastion/internal/transport/http/shared"
	dErrors "bastion/pkg/domain-errors"
)

// errUnauthorized is the shared rejection for anonymous requests to
// session-gated routes.
var errUnauthorized = dErrors.New(dErrors.CodeUnauthorized, "authentication required")

func writeError(w http.ResponseWriter, err error) {
	shared.WriteError(w, err)
}

func writeNotFound(w http.ResponseWriter) {
	shared.WriteNotFound(w)
}
