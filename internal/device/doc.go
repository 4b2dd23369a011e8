// Package device holds the device, tag and telemetry record domain:
// types and SQLite repositories. Every repository query is scoped to
// an owning account so foreign objects are indistinguishable from
// absent ones.
package device
