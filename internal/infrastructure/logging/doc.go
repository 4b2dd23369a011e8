// Package logging provides structured logging built on log/slog.
//
// All RIoT components log through this package so output carries a
// consistent shape: a service field, a version field, and whatever
// component-level attributes a subsystem adds via With.
package logging
