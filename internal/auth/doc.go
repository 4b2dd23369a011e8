// Package auth is the identity core: session token codec, credential
// extraction, identity resolution, password hashing, API keys, account
// persistence and the ephemeral credential stores.
//
// The package is deliberately transport-light. Extraction reads an
// *http.Request but nothing here writes responses; the HTTP-facing
// authorization gate lives in internal/api.
package auth
