package httpErrors

import (
	"errors"
	"net/http"

	dErrors "bastion/pkg/domain-errors"
)

// ToHTTPStatus maps a domain error code to the HTTP status the guard chain
// surfaces. Security rejections deliberately map to coarse statuses so the
// response never leaks which defense fired beyond its class.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized, dErrors.CodeSessionExpired:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeCSRFViolation, dErrors.CodeSuspiciousInput, dErrors.CodeCriticalViolation:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the domain code from an error, defaulting to internal_error.
func CodeOf(err error) dErrors.Code {
	var e *dErrors.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return dErrors.CodeInternal
}
