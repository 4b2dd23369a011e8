package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordRepository persists telemetry records. Insert sits on the
// ingestion hot path; the list query is owner-checked through the
// device join.
type RecordRepository interface {
	Insert(ctx context.Context, rec *Record) error
	ListByDevice(ctx context.Context, deviceID uint64, limit int) ([]Record, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// SQLiteRecordRepository implements RecordRepository using SQLite.
type SQLiteRecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new SQLite-backed record repository.
func NewRecordRepository(db *sql.DB) *SQLiteRecordRepository {
	return &SQLiteRecordRepository{db: db}
}

// defaultRecordLimit caps unbounded record listings.
const defaultRecordLimit = 1000

// Insert stores a record. The caller decides the timestamp: server
// time on the ingestion path, optionally client-supplied over HTTP.
func (r *SQLiteRecordRepository) Insert(ctx context.Context, rec *Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		"INSERT INTO records (device_id, payload, timestamp) VALUES (?, ?, ?)",
		rec.DID, rec.Payload, rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading new record id: %w", err)
	}
	rec.ID = uint64(id) //nolint:gosec // G115: SQLite rowids are positive

	return nil
}

// ListByDevice returns a device's most recent records, newest first.
// A non-positive limit falls back to the default cap.
func (r *SQLiteRecordRepository) ListByDevice(ctx context.Context, deviceID uint64, limit int) ([]Record, error) {
	if limit <= 0 || limit > defaultRecordLimit {
		limit = defaultRecordLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, payload, timestamp FROM records
		 WHERE device_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var ts string
		if err := rows.Scan(&rec.ID, &rec.DID, &rec.Payload, &ts); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts) //nolint:errcheck // format is controlled
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// CountSince returns the number of records received at or after since.
func (r *SQLiteRecordRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE timestamp >= ?",
		since.UTC().Format(time.RFC3339Nano),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return count, nil
}
