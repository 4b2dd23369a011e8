package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines device persistence. Every query is scoped to an
// owning account: a device belonging to someone else behaves exactly
// like a device that does not exist.
type Repository interface {
	Create(ctx context.Context, d *Device) error
	Get(ctx context.Context, uid, id uint64) (*Device, error)
	GetByTopic(ctx context.Context, uid uint64, topic string) (*Device, error)
	List(ctx context.Context, uid uint64) ([]Device, error)
	Update(ctx context.Context, uid, id uint64, upd Update) error
	Deactivate(ctx context.Context, uid, id uint64) error
	TouchLastUpdate(ctx context.Context, id uint64, at time.Time) error
	Count(ctx context.Context) (int, error)
}

// Update describes a partial device update. Nil fields are untouched.
type Update struct {
	Name        *string
	Description *string
	DType       *uint32
	Topic       *string
	Latitude    *float64
	Longitude   *float64
	Activated   *bool
}

func (u Update) empty() bool {
	return u.Name == nil && u.Description == nil && u.DType == nil &&
		u.Topic == nil && u.Latitude == nil && u.Longitude == nil &&
		u.Activated == nil
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository creates a new SQLite-backed device repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = "id, uid, name, description, dtype, topic, latitude, longitude, since, last_update, activated"

// Create inserts a new device. A duplicate topic for the same owner
// returns ErrExists.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC().Truncate(time.Second)
	d.Since = now
	d.LastUpdate = now

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (uid, name, description, dtype, topic, latitude, longitude, since, last_update, activated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.UID, d.Name, d.Description, d.DType, d.Topic, d.Latitude, d.Longitude,
		now.Format(time.RFC3339), now.Format(time.RFC3339), boolToInt(d.Activated),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("creating device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading new device id: %w", err)
	}
	d.ID = uint64(id) //nolint:gosec // G115: SQLite rowids are positive

	return nil
}

// Get retrieves a device by ID within the owner's scope.
func (r *SQLiteRepository) Get(ctx context.Context, uid, id uint64) (*Device, error) {
	return r.getDevice(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ? AND uid = ?", id, uid)
}

// GetByTopic retrieves a device by its owner-relative topic. This is
// the ingestion authorization lookup: the owner scope makes a
// cross-tenant topic guess fail closed.
func (r *SQLiteRepository) GetByTopic(ctx context.Context, uid uint64, topic string) (*Device, error) {
	return r.getDevice(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE uid = ? AND topic = ?", uid, topic)
}

// List returns all of an owner's devices, oldest first.
func (r *SQLiteRepository) List(ctx context.Context, uid uint64) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE uid = ? ORDER BY id ASC", uid)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Update applies a partial update within the owner's scope.
func (r *SQLiteRepository) Update(ctx context.Context, uid, id uint64, upd Update) error {
	if upd.empty() {
		return nil
	}

	var sets []string
	var args []any
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.DType != nil {
		sets = append(sets, "dtype = ?")
		args = append(args, *upd.DType)
	}
	if upd.Topic != nil {
		sets = append(sets, "topic = ?")
		args = append(args, *upd.Topic)
	}
	if upd.Latitude != nil {
		sets = append(sets, "latitude = ?")
		args = append(args, *upd.Latitude)
	}
	if upd.Longitude != nil {
		sets = append(sets, "longitude = ?")
		args = append(args, *upd.Longitude)
	}
	if upd.Activated != nil {
		sets = append(sets, "activated = ?")
		args = append(args, boolToInt(*upd.Activated))
	}
	args = append(args, id, uid)

	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET "+strings.Join(sets, ", ")+" WHERE id = ? AND uid = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("updating device: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes a device within the owner's scope. Records
// are retained; the device stops accepting ingestion.
func (r *SQLiteRepository) Deactivate(ctx context.Context, uid, id uint64) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET activated = 0 WHERE id = ? AND uid = ?", id, uid)
	if err != nil {
		return fmt.Errorf("deactivating device: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUpdate stamps a device's last_update time. Called by the
// ingestion path, which has already authorized the write, so no owner
// scope here.
func (r *SQLiteRepository) TouchLastUpdate(ctx context.Context, id uint64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE devices SET last_update = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	return nil
}

// Count returns the total number of devices across all owners.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices WHERE activated = 1").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting devices: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) getDevice(ctx context.Context, query string, args ...any) (*Device, error) {
	return scanDevice(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	var activated int
	var since, lastUpdate string

	err := s.Scan(&d.ID, &d.UID, &d.Name, &d.Description, &d.DType, &d.Topic,
		&d.Latitude, &d.Longitude, &since, &lastUpdate, &activated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	d.Activated = activated != 0
	d.Since, _ = time.Parse(time.RFC3339, since)           //nolint:errcheck // format is controlled
	d.LastUpdate, _ = time.Parse(time.RFC3339, lastUpdate) //nolint:errcheck // format is controlled

	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "unique constraint"))
}
