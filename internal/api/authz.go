package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/riotcore/riot/internal/auth"
)

// outcome tags the result of a single credential resolution pass.
type outcome int

const (
	// outcomeAuthenticated: a live account was resolved.
	outcomeAuthenticated outcome = iota

	// outcomeUnauthenticated: no credential was presented at all.
	outcomeUnauthenticated

	// outcomeRejected: a credential was presented and failed.
	outcomeRejected
)

// resolution is the gate's single decision, made once per request.
type resolution struct {
	outcome outcome
	user    *auth.User

	// status/code/message are set when outcome is outcomeRejected.
	status  int
	code    string
	message string
}

// resolve performs one credential resolution pass.
//
// The API-key query parameter is checked first and short-circuits the
// token path entirely: a request carrying both an invalid key and a
// valid cookie is rejected on the key. Otherwise the cookie/header
// token is resolved.
func (s *Server) resolve(r *http.Request) resolution {
	if key := auth.APIKeyFromRequest(r); key != "" {
		user, err := s.resolver.ResolveAPIKey(r.Context(), key)
		if err != nil {
			return resolution{
				outcome: outcomeRejected,
				status:  http.StatusUnauthorized,
				code:    ErrCodeTokenInvalid,
				message: "invalid credentials",
			}
		}
		return resolution{outcome: outcomeAuthenticated, user: user}
	}

	raw := auth.TokenFromRequest(r)
	if raw == "" {
		return resolution{outcome: outcomeUnauthenticated}
	}

	user, err := s.resolver.ResolveToken(r.Context(), raw)
	switch {
	case err == nil:
		return resolution{outcome: outcomeAuthenticated, user: user}
	case errors.Is(err, auth.ErrUserNotFound):
		// Well-signed token, vanished account. Distinguished from a
		// forgery in the code and logs; the wording stays generic.
		s.logger.Warn("token for vanished account", "request_id", r.Context().Value(ctxKeyRequestID))
		return resolution{
			outcome: outcomeRejected,
			status:  http.StatusUnauthorized,
			code:    ErrCodeAccountGone,
			message: "invalid credentials",
		}
	default:
		return resolution{
			outcome: outcomeRejected,
			status:  http.StatusUnauthorized,
			code:    ErrCodeTokenInvalid,
			message: "invalid credentials",
		}
	}
}

// requireAuth gates a route at the given privilege level.
//
// No credential → 401. Failed credential → 401. Authenticated but
// under-privileged → 403. On success the account is attached to the
// request context exactly once.
func (s *Server) requireAuth(level auth.Privilege) func(http.Handler) http.Handler {
	return s.gate(level, false)
}

// optionalAuth attaches identity when a credential is present and
// valid. Anonymous requests and failed credentials both pass through
// identity-less; only an authenticated but under-privileged account is
// still rejected. Optional mode waives resolution failure, never
// insufficiency.
func (s *Server) optionalAuth(level auth.Privilege) func(http.Handler) http.Handler {
	return s.gate(level, true)
}

func (s *Server) gate(level auth.Privilege, optional bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := s.resolve(r)

			switch res.outcome {
			case outcomeUnauthenticated:
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				writeAuthError(w, http.StatusUnauthorized, ErrCodeTokenMissing, "authentication required")
				return

			case outcomeRejected:
				if optional {
					// A failed credential on an optional route is
					// treated like no credential at all: the handler
					// runs identity-less. Only insufficiency rejects
					// regardless of mode, never resolution failure.
					s.logger.Debug("ignoring failed credential on optional route", "code", res.code)
					next.ServeHTTP(w, r)
					return
				}
				writeAuthError(w, res.status, res.code, res.message)
				return
			}

			if !res.user.Privilege.AtLeast(level) {
				writeError(w, http.StatusForbidden, ErrCodeForbidden, "permission denied")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUser, res.user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CurrentUser returns the account attached by the gate, or nil on an
// optional route with no identity.
func CurrentUser(ctx context.Context) *auth.User {
	u, _ := ctx.Value(ctxKeyUser).(*auth.User)
	return u
}

// mustUser returns the gated account. A nil result means the route was
// wired without its gate, which is a programming error, surfaced as a
// 500 by the caller.
func mustUser(ctx context.Context) (*auth.User, bool) {
	u := CurrentUser(ctx)
	return u, u != nil
}
