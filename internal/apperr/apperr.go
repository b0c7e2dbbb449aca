// Package apperr defines the error taxonomy shared by every component and
// its mapping to the codes returned at the connection and HTTP boundaries.
package apperr

import (
	"errors"
	"net/http"
)

// Sentinel errors. Packages wrap these with their own specific errors so
// callers can match either the specific or the general kind with errors.Is.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Wire codes.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeConflict     = "CONFLICT"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL"
)

// Code returns the wire code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeBadRequest
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrStoreUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// HTTPStatus returns the HTTP status matching err.
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a client-safe message for err. Internal and backend
// failures get a fixed text since they may carry driver or address details.
func Message(err error) string {
	switch Code(err) {
	case CodeInternal:
		return "internal error"
	case CodeUnavailable:
		return "service temporarily unavailable"
	default:
		return err.Error()
	}
}

// Retryable reports whether a client should retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
