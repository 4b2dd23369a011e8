package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/riotcore/riot/internal/auth"
)

// Account field limits.
const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 8
	maxPasswordLen = 128
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister creates a new account.
//
// New accounts start at Normal privilege, deactivated, with a fresh
// API key. The caller still needs the verification flow before login.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if msg := validateAccountFields(req.Username, req.Email, req.Password); msg != "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hashing password", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	user := &auth.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Privilege:    auth.PrivilegeNormal,
		APIKey:       auth.NewAPIKey(),
		Activated:    false,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "username or email already taken")
			return
		}
		s.logger.Error("creating user", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

type loginRequest struct {
	Account  string `json:"account"` // username or email
	Password string `json:"password"`
}

// handleLogin checks credentials and opens a session.
//
// Wrong account, wrong password and unactivated account all map to
// 403; only the activation case gets its own code, since telling an
// owner to check their mailbox is worth the hint.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	user, err := s.users.GetByAccount(r.Context(), strings.TrimSpace(req.Account))
	if err != nil {
		writeAuthError(w, http.StatusForbidden, ErrCodeWrongCredential, "wrong credentials")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		writeAuthError(w, http.StatusForbidden, ErrCodeWrongCredential, "wrong credentials")
		return
	}

	if !user.Activated {
		writeAuthError(w, http.StatusForbidden, ErrCodeNotActivated, "account not activated")
		return
	}

	token, err := auth.GenerateToken(user.ID, s.secret, s.tokenMaxAge)
	if err != nil {
		s.logger.Error("generating token", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	s.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

// handleMe reports the caller's own account. The route is optionally
// gated: with no identity it answers 202 rather than an error, so
// frontends can poll it as a session probe.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "not logged in"})
		return
	}

	// Own account: keep the API key visible, blank the hash.
	out := *user
	out.PasswordHash = ""
	writeJSON(w, http.StatusOK, out)
}

type updateMeRequest struct {
	Username     *string `json:"username"`
	Email        *string `json:"email"`
	Password     *string `json:"password"`
	RotateAPIKey bool    `json:"rotate_api_key"`
}

// handleUpdateMe applies a partial update to the caller's account.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(r.Context())
	if !ok {
		s.logger.Error("update handler reached without gate")
		writeInternalError(w, "internal server error")
		return
	}

	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	var upd auth.UserUpdate
	if req.Username != nil {
		name := strings.TrimSpace(*req.Username)
		if len(name) < minUsernameLen || len(name) > maxUsernameLen {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid username")
			return
		}
		upd.Username = &name
	}
	if req.Email != nil {
		addr := strings.TrimSpace(*req.Email)
		if _, err := mail.ParseAddress(addr); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid email")
			return
		}
		upd.Email = &addr
	}
	if req.Password != nil {
		if len(*req.Password) < minPasswordLen || len(*req.Password) > maxPasswordLen {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid password length")
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			s.logger.Error("hashing password", "error", err)
			writeInternalError(w, "internal server error")
			return
		}
		upd.PasswordHash = &hash
	}
	if req.RotateAPIKey {
		fresh := auth.NewAPIKey()
		upd.APIKey = &fresh
	}

	if upd == (auth.UserUpdate{}) {
		writeJSON(w, http.StatusNotModified, nil)
		return
	}

	if err := s.users.Update(r.Context(), user.ID, upd); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "username or email already taken")
			return
		}
		s.logger.Error("updating user", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	updated, err := s.users.GetByID(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("reloading user", "error", err)
		writeInternalError(w, "internal server error")
		return
	}
	out := *updated
	out.PasswordHash = ""
	writeJSON(w, http.StatusOK, out)
}

type sendVerificationRequest struct {
	Account string `json:"account"` // username or email
}

// handleSendVerification issues a one-time activation code.
//
// The response is byte-identical whether or not the account exists:
// this endpoint must not be an account oracle. Repeated requests for
// the same account inside the rate window get 429 regardless.
func (s *Server) handleSendVerification(w http.ResponseWriter, r *http.Request) {
	var req sendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	account := strings.TrimSpace(req.Account)
	if account == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "account required")
		return
	}

	// Rate limit keys on the requested account string, so probing an
	// existing account is throttled exactly like probing a missing one.
	if s.rateLimiter.Contains(account) {
		writeError(w, http.StatusTooManyRequests, ErrCodeTooFast, "try again later")
		return
	}
	s.rateLimiter.Insert(account)

	if user, err := s.users.GetByAccount(r.Context(), account); err == nil {
		code := auth.NewOneTimeCode()
		s.codes.Insert(code, user.ID)
		if err := s.mailer.SendVerification(user.Email, user.Username, code); err != nil {
			// Logged and swallowed: failure must not change the response.
			s.logger.Error("sending verification mail", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "verification sent if the account exists"})
}

// handleVerify consumes a one-time code, activates the account and
// opens a session in the same response.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeBadRequest(w, "code required")
		return
	}

	userID, ok := s.codes.Take(code)
	if !ok {
		writeAuthError(w, http.StatusForbidden, ErrCodeForbidden, "invalid or expired code")
		return
	}

	activated := true
	if err := s.users.Update(r.Context(), userID, auth.UserUpdate{Activated: &activated}); err != nil {
		s.logger.Error("activating user", "user_id", userID, "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	token, err := auth.GenerateToken(userID, s.secret, s.tokenMaxAge)
	if err != nil {
		s.logger.Error("generating token", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	s.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{"status": "activated", "token": token})
}

// setTokenCookie installs the session cookie.
func (s *Server) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.tokenMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// validateAccountFields checks registration input. Returns "" when valid.
func validateAccountFields(username, email, password string) string {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return "username must be 3-32 characters"
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "invalid email address"
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return "password must be 8-128 characters"
	}
	return ""
}
