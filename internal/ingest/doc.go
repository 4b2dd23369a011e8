// Package ingest is the MQTT ingestion daemon: it subscribes to the
// broker's entire topic space and converts authorized publishes into
// stored telemetry records.
//
// Authorization is per message: the first topic segment must be a
// live API key and the remainder must name a device owned by that
// key's account. Everything else is discarded without affecting the
// session.
package ingest
