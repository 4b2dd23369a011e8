// Package config loads and validates RIoT Core configuration.
//
// Configuration is layered: hardcoded defaults, then YAML file values,
// then RIOT_* environment variable overrides. Validation rejects
// configurations that would run the service in an insecure state
// (most importantly a missing or weak JWT secret).
package config
