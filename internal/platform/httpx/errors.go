// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/salespulse/internal/shared"
)

// ErrUnauthorized marks a request without a usable bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// StatusFor maps a domain error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidTransition), errors.Is(err, shared.ErrMutationInFlight):
		return http.StatusConflict
	case errors.Is(err, shared.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusUnauthorized:
		Problem(w, status, "Unauthorized", err.Error())
	case http.StatusBadRequest:
		Problem(w, status, "Validation Failed", err.Error())
	case http.StatusForbidden:
		Problem(w, status, "Forbidden", err.Error())
	case http.StatusNotFound:
		Problem(w, status, "Not Found", err.Error())
	case http.StatusConflict:
		ProblemTyped(w, status, conflictType(err), "Conflict", err.Error())
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		Problem(w, status, "Temporarily Unavailable", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func conflictType(err error) string {
	if errors.Is(err, shared.ErrMutationInFlight) {
		return "urn:salespulse:mutation-in-flight"
	}
	return "urn:salespulse:invalid-transition"
}
