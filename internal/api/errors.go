package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-vdev/internal/automation"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeUnavailable    = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeDomainError maps automation errors onto HTTP responses. Anything
// unrecognised becomes a 500 carrying fallback rather than the raw error.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, automation.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, automation.ErrTransitionNotFound):
		writeNotFound(w, "transition not found")
	case errors.Is(err, automation.ErrRunNotFound):
		writeNotFound(w, "run not found")
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, automation.ErrDeviceExists):
		writeConflict(w, err.Error())
	case errors.Is(err, automation.ErrDeviceDisabled):
		writeConflict(w, "device is disabled")
	case errors.Is(err, automation.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "service is shutting down")
	default:
		writeInternalError(w, fallback)
	}
}

// isValidationError reports whether err came from device validation.
func isValidationError(err error) bool {
	return errors.Is(err, automation.ErrInvalidDevice) ||
		errors.Is(err, automation.ErrInvalidName) ||
		errors.Is(err, automation.ErrInvalidSlug) ||
		errors.Is(err, automation.ErrNoTransitions) ||
		errors.Is(err, automation.ErrInvalidTransition)
}
