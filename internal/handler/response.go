package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError, so all responses
// share one shape. Errors always look like:
//
//	{"error": "not_found", "message": "no account registered with this email"}
//
// The frontend can switch on "error" and show "message" as is.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/plausch/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body is written; once
// Encode writes, later header changes are silently ignored.
func (h *AccountHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps an error to its HTTP status and machine-readable type.
//
// ERROR MAPPING:
//
//	ErrInvalidCredentials  400 invalid_credentials
//	ErrInvalidToken        400 invalid_token
//	ErrNotConfirmed        403 not_confirmed
//	ErrUnauthorized        401 unauthorized
//	ErrValidation          400 validation_error
//	ErrConflict            400 conflict
//	ErrForbidden           403 forbidden
//	ErrNotFound            404 not_found
//	ErrTransient           500 temporarily_unavailable
//
// The unauthorized family is checked first: its members also match
// ErrUnauthorized. Conflicts are 400 because the frontend treats "already
// registered" and "already confirmed" like any other bad input.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrInvalidCredentials):
		return http.StatusBadRequest, "invalid_credentials"
	case errors.Is(err, apperror.ErrInvalidToken):
		return http.StatusBadRequest, "invalid_token"
	case errors.Is(err, apperror.ErrNotConfirmed):
		return http.StatusForbidden, "not_confirmed"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusBadRequest, "conflict"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrTransient):
		return http.StatusInternalServerError, "temporarily_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it. Only AppError messages reach the client; anything else
// becomes a generic 500 and the detail goes to the log.
func (h *AccountHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, errorType := errorStatus(err)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		h.logger.ErrorContext(r.Context(), "unhandled error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		h.writeJSON(w, r, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	h.writeJSON(w, r, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
	})
}
