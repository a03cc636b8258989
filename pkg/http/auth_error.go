package http

import (
	"errors"
	"net/http"

	"github.com/BradenHooton/authcore/internal/models"
)

// StatusForError maps an auth error to its HTTP status and error code
func StatusForError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, models.ErrAccountLocked):
		return http.StatusLocked, "account_locked"
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limit_exceeded"
	case errors.Is(err, models.ErrAuthorization):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrAuthentication):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, models.ErrStorage):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteAuthError writes err using only its caller-safe parts. The internal
// reason never leaves the process.
func WriteAuthError(w http.ResponseWriter, err error) {
	status, code := StatusForError(err)

	resp := ErrorResponse{Error: code, Message: "internal server error"}
	var ae *models.AuthError
	if errors.As(err, &ae) {
		resp.Message = ae.Error()
		resp.Violations = ae.Violations
		if status == http.StatusLocked || status == http.StatusTooManyRequests {
			resp.RetryAfter = RetryAfterSeconds(ae.RetryAfter)
		}
	}

	WriteErrorResponse(w, status, resp)
}
