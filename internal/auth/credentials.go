package auth

import (
	"net/http"
	"strings"
)

// TokenCookieName is the session cookie set at login and cleared on
// 400-class authentication failures.
const TokenCookieName = "token"

// TokenFromRequest extracts a raw session token from the request.
//
// The cookie is checked first; if absent, the Authorization header is
// consulted for a Bearer token. Returns "" when neither is present.
// Extraction never validates: a present-but-garbage value is returned
// as-is for the resolver to reject.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(TokenCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	header := r.Header.Get("Authorization")
	if raw, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(raw)
	}
	return ""
}

// APIKeyFromRequest extracts an API key from the api_key query
// parameter. Returns "" when absent.
func APIKeyFromRequest(r *http.Request) string {
	return r.URL.Query().Get("api_key")
}
