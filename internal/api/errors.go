package api

import (
	"errors"
	"net/http"

	"github.com/tilegrid/procserve/internal/domain"
)

// MapErrorToStatusCode maps engine errors to HTTP status codes based on
// the error taxonomy. Unknown errors default to an internal server
// error so internal detail never leaks through an unexpected path.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrProcessNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrResultNotReady):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrJobNotCancelable):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}

// SafeErrorMessage returns the message exposed to clients. Caller
// errors and process failures keep their detail: the process's own
// message is part of the contract. Infrastructure faults are replaced
// with a generic message; the full detail goes to the logs only.
func SafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrProcessNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrResultNotReady),
		errors.Is(err, domain.ErrJobNotCancelable),
		errors.Is(err, domain.ErrJobFailed):
		return err.Error()

	default:
		return "An unexpected error occurred"
	}
}
