package auth

import (
	"errors"
	"time"
)

// Privilege is an ordered access level. Higher values include every
// capability of the levels below them.
type Privilege uint32

// Privilege levels, lowest to highest.
const (
	// PrivilegeEveryone is the floor: any request, credentialed or not.
	// Used by optional gates that attach identity without requiring it.
	PrivilegeEveryone Privilege = 0

	// PrivilegeViewer can read but not mutate.
	PrivilegeViewer Privilege = 1

	// PrivilegeNormal is a regular account: owns devices, tags, records.
	PrivilegeNormal Privilege = 2

	// PrivilegeAdmin can manage other accounts.
	PrivilegeAdmin Privilege = 3

	// PrivilegeSuperAdmin is unrestricted.
	PrivilegeSuperAdmin Privilege = 4
)

// AtLeast reports whether p grants the capabilities of required.
func (p Privilege) AtLeast(required Privilege) bool {
	return p >= required
}

// User is an account row. PasswordHash and APIKey are secrets and must
// be blanked before a User is serialised into a response body.
type User struct {
	ID           uint64    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Privilege    Privilege `json:"privilege"`
	APIKey       string    `json:"api_key,omitempty"`
	Since        time.Time `json:"since"`
	Activated    bool      `json:"activated"`
}

// Redacted returns a copy safe to hand to other users: secrets and
// contact details stripped.
func (u User) Redacted() User {
	u.PasswordHash = ""
	u.APIKey = ""
	u.Email = ""
	return u
}

// Sentinel errors for the identity core, checkable with errors.Is.
var (
	// ErrInvalidSubject indicates a token was requested for an empty subject.
	ErrInvalidSubject = errors.New("auth: invalid token subject")

	// ErrTokenInvalid covers every token verification failure: bad
	// signature, malformed structure, wrong algorithm, expiry. Callers
	// cannot and must not distinguish between these causes.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrUserNotFound indicates no account matches the given identifier.
	ErrUserNotFound = errors.New("auth: user not found")

	// ErrUserExists indicates a registration conflict on username or email.
	ErrUserExists = errors.New("auth: user already exists")

	// ErrWrongCredentials indicates a failed password check.
	ErrWrongCredentials = errors.New("auth: wrong credentials")

	// ErrUserNotActivated indicates a login attempt on an unverified account.
	ErrUserNotActivated = errors.New("auth: user not activated")
)
