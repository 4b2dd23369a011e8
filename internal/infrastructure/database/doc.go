// Package database manages the SQLite connection and embedded schema
// migrations. Repositories in other packages operate on the *sql.DB it
// exposes.
package database
