package api

import (
	"encoding/json"
	"net/http"

	"github.com/riotcore/riot/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeTokenMissing    = "token_not_provided"
	ErrCodeTokenInvalid    = "invalid_token"
	ErrCodeAccountGone     = "account_gone"
	ErrCodeForbidden       = "permission_denied"
	ErrCodeWrongCredential = "wrong_credentials"
	ErrCodeNotActivated    = "not_activated"
	ErrCodeConflict        = "conflict"
	ErrCodeTooFast         = "too_fast"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
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

// clearTokenCookie expires the session cookie. Sent with 400-class
// failures on session paths so a browser stuck with a dead token gets
// unstuck on its next attempt.
func clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeAuthError writes a 400-class error and clears the session cookie.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	clearTokenCookie(w)
	writeError(w, status, code, message)
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
