package device

import (
	"errors"
	"time"
)

// Device is a telemetry source owned by exactly one account.
//
// Topic is the owner-relative MQTT suffix; the full wire topic a
// device publishes to is "<owner api key>/<topic>". Topic is unique
// per owner, never globally.
type Device struct {
	ID          uint64    `json:"id"`
	UID         uint64    `json:"uid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	DType       uint32    `json:"dtype"`
	Topic       string    `json:"topic"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Since       time.Time `json:"since"`
	LastUpdate  time.Time `json:"last_update"`
	Activated   bool      `json:"activated"`
}

// Record is a single telemetry datum. Payload is opaque bytes; the
// platform stores, never interprets. Timestamp is server-assigned on
// the ingestion path and optionally client-supplied over HTTP.
type Record struct {
	ID        uint64    `json:"id"`
	DID       uint64    `json:"did"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Tag is an owner-scoped label grouping devices.
type Tag struct {
	ID          uint64    `json:"id"`
	UID         uint64    `json:"uid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Since       time.Time `json:"since"`
	Activated   bool      `json:"activated"`
}

// Sentinel errors, checkable with errors.Is.
var (
	// ErrNotFound indicates the object does not exist within the
	// caller's ownership scope. Foreign objects are indistinguishable
	// from absent ones.
	ErrNotFound = errors.New("device: not found")

	// ErrExists indicates a uniqueness conflict (duplicate topic for an
	// owner, duplicate tag assignment).
	ErrExists = errors.New("device: already exists")
)
