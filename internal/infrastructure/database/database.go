package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/riotcore/riot/internal/infrastructure/logging"
)

// DB wraps the SQLite connection with RIoT-specific lifecycle management.
type DB struct {
	*sql.DB
	path   string
	logger *logging.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending migrations.
//
// The connection is configured for the platform's access pattern:
// WAL journaling for concurrent readers alongside the ingestion
// writer, foreign keys enforced, and a busy timeout so short write
// contention blocks instead of failing.
func Open(ctx context.Context, path string, logger *logging.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn between the API and the ingestion daemon.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{
		DB:     db,
		path:   path,
		logger: logger.With("component", "database"),
	}

	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return d, nil
}

// Path returns the filesystem path of the database file.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.DB.Close()
}
