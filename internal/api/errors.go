package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

// Error codes returned in API responses
const (
	ErrCodeInvalidArgument     = "INVALID_ARGUMENT"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeUnsupportedLanguage = "UNSUPPORTED_LANGUAGE"
	ErrCodePackageNotAllowed   = "PACKAGE_NOT_ALLOWED"
	ErrCodeExecutionTimeout    = "EXECUTION_TIMEOUT"
	ErrCodeBackendUnavailable  = "BACKEND_UNAVAILABLE"
	ErrCodeBackendCrashed      = "BACKEND_CRASHED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInstallFailed       = "INSTALL_FAILED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// writeAPIError maps a sandbox error onto a structured response with
// the matching HTTP status.
func writeAPIError(w http.ResponseWriter, err error) {
	code := ErrCodeInternalError
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, sandbox.ErrInvalidArgument):
		code, status = ErrCodeInvalidArgument, http.StatusBadRequest
	case errors.Is(err, sandbox.ErrAccessDenied):
		code, status = ErrCodeAccessDenied, http.StatusForbidden
	case errors.Is(err, sandbox.ErrUnsupportedLanguage):
		code, status = ErrCodeUnsupportedLanguage, http.StatusBadRequest
	case errors.Is(err, sandbox.ErrPackageNotAllowed):
		code, status = ErrCodePackageNotAllowed, http.StatusForbidden
	case errors.Is(err, sandbox.ErrTimeout):
		code, status = ErrCodeExecutionTimeout, http.StatusGatewayTimeout
	case errors.Is(err, sandbox.ErrBackendUnavailable):
		code, status = ErrCodeBackendUnavailable, http.StatusServiceUnavailable
	case errors.Is(err, sandbox.ErrBackendCrashed):
		code, status = ErrCodeBackendCrashed, http.StatusBadGateway
	case errors.Is(err, sandbox.ErrNotFound):
		code, status = ErrCodeNotFound, http.StatusNotFound
	case errors.Is(err, sandbox.ErrInstallFailed):
		code, status = ErrCodeInstallFailed, http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{Code: code, Message: err.Error()})
}

// writeValidationError writes a 400 Bad Request
func writeValidationError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidArgument,
		Message: message,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}
