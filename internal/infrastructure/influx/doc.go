// Package influx mirrors ingested device records to InfluxDB for
// time-series queries. The mirror is optional and best-effort: the
// relational store remains the source of truth, and write failures
// never block ingestion.
package influx
