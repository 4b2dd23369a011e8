package auth

import "github.com/google/uuid"

// NewAPIKey returns a fresh ingestion credential. Keys are UUIDv4
// strings assigned at registration and rotated only by an explicit
// account update.
func NewAPIKey() string {
	return uuid.NewString()
}

// NewOneTimeCode returns a single-use verification code for the
// email activation flow.
func NewOneTimeCode() string {
	return uuid.NewString()
}
