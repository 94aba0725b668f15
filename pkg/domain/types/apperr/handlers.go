package apperr

import (
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
)

// HTTPStatusFromError returns the appropriate HTTP status code based on error tags
func HTTPStatusFromError(err error) int {
	switch {
	case goerr.HasTag(err, ErrTagNotFound):
		return http.StatusNotFound

	case goerr.HasTag(err, ErrTagValidation):
		return http.StatusBadRequest

	case goerr.HasTag(err, ErrTagInvalidState):
		return http.StatusConflict

	case goerr.HasTag(err, ErrTagUnauthorized):
		return http.StatusUnauthorized

	case goerr.HasTag(err, ErrTagRateLimit):
		return http.StatusTooManyRequests

	case goerr.HasTag(err, ErrTagProvider):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// CodeFromError returns a stable machine readable error code
func CodeFromError(err error) string {
	switch {
	case goerr.HasTag(err, ErrTagNotFound):
		return "not_found"
	case goerr.HasTag(err, ErrTagValidation):
		return "validation_error"
	case goerr.HasTag(err, ErrTagInvalidState):
		return "invalid_state"
	case goerr.HasTag(err, ErrTagUnauthorized):
		return "unauthorized"
	case goerr.HasTag(err, ErrTagRateLimit):
		return "rate_limited"
	case goerr.HasTag(err, ErrTagProvider):
		return "provider_error"
	default:
		return "internal_error"
	}
}

// IsClientFault reports whether err was caused by the caller
func IsClientFault(err error) bool {
	status := HTTPStatusFromError(err)
	return status >= 400 && status < 500
}

// Message returns a message that is safe to show to the caller. Server faults
// other than provider errors are replaced with a generic text. For everything
// else the innermost cause is used, which is the message written at the point
// of detection, or the provider's own message for provider errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if !IsClientFault(err) && !goerr.HasTag(err, ErrTagProvider) {
		return "internal server error"
	}

	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	return root.Error()
}
