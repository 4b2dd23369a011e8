package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TagRepository persists tags and the tag/device assignment table.
// All queries are owner-scoped like the device repository.
type TagRepository interface {
	Create(ctx context.Context, tag *Tag) error
	Get(ctx context.Context, uid, id uint64) (*Tag, error)
	List(ctx context.Context, uid uint64) ([]Tag, error)
	Update(ctx context.Context, uid, id uint64, name, description *string) error
	Delete(ctx context.Context, uid, id uint64) error
	Assign(ctx context.Context, uid, tagID, deviceID uint64) error
	Unassign(ctx context.Context, uid, tagID, deviceID uint64) error
	Devices(ctx context.Context, uid, tagID uint64) ([]Device, error)
}

// SQLiteTagRepository implements TagRepository using SQLite.
type SQLiteTagRepository struct {
	db *sql.DB
}

// NewTagRepository creates a new SQLite-backed tag repository.
func NewTagRepository(db *sql.DB) *SQLiteTagRepository {
	return &SQLiteTagRepository{db: db}
}

const tagColumns = "id, uid, name, description, since, activated"

// Create inserts a new tag.
func (r *SQLiteTagRepository) Create(ctx context.Context, tag *Tag) error {
	tag.Since = time.Now().UTC().Truncate(time.Second)
	tag.Activated = true

	result, err := r.db.ExecContext(ctx,
		"INSERT INTO tags (uid, name, description, since, activated) VALUES (?, ?, ?, ?, 1)",
		tag.UID, tag.Name, tag.Description, tag.Since.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating tag: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading new tag id: %w", err)
	}
	tag.ID = uint64(id) //nolint:gosec // G115: SQLite rowids are positive

	return nil
}

// Get retrieves a tag by ID within the owner's scope.
func (r *SQLiteTagRepository) Get(ctx context.Context, uid, id uint64) (*Tag, error) {
	return scanTag(r.db.QueryRowContext(ctx,
		"SELECT "+tagColumns+" FROM tags WHERE id = ? AND uid = ?", id, uid))
}

// List returns all of an owner's tags.
func (r *SQLiteTagRepository) List(ctx context.Context, uid uint64) ([]Tag, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+tagColumns+" FROM tags WHERE uid = ? ORDER BY id ASC", uid)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tags: %w", err)
	}
	return tags, nil
}

// Update changes a tag's name and/or description within the owner's scope.
func (r *SQLiteTagRepository) Update(ctx context.Context, uid, id uint64, name, description *string) error {
	if name == nil && description == nil {
		return nil
	}

	var sets []string
	var args []any
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *description)
	}
	args = append(args, id, uid)

	query := "UPDATE tags SET " + sets[0]
	if len(sets) == 2 {
		query += ", " + sets[1]
	}
	query += " WHERE id = ? AND uid = ?"

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating tag: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a tag and its assignments (cascade) within the
// owner's scope.
func (r *SQLiteTagRepository) Delete(ctx context.Context, uid, id uint64) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM tags WHERE id = ? AND uid = ?", id, uid)
	if err != nil {
		return fmt.Errorf("deleting tag: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Assign tags a device. Both objects must belong to uid; a duplicate
// assignment returns ErrExists.
func (r *SQLiteTagRepository) Assign(ctx context.Context, uid, tagID, deviceID uint64) error {
	if err := r.checkOwnership(ctx, uid, tagID, deviceID); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO tag_device (tag_id, device_id) VALUES (?, ?)", tagID, deviceID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("assigning tag: %w", err)
	}
	return nil
}

// Unassign removes a tag from a device within the owner's scope.
func (r *SQLiteTagRepository) Unassign(ctx context.Context, uid, tagID, deviceID uint64) error {
	if err := r.checkOwnership(ctx, uid, tagID, deviceID); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM tag_device WHERE tag_id = ? AND device_id = ?", tagID, deviceID)
	if err != nil {
		return fmt.Errorf("unassigning tag: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Devices returns all devices carrying a tag, within the owner's scope.
func (r *SQLiteTagRepository) Devices(ctx context.Context, uid, tagID uint64) ([]Device, error) {
	// Make a missing or foreign tag indistinguishable.
	if _, err := r.Get(ctx, uid, tagID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT d.id, d.uid, d.name, d.description, d.dtype, d.topic, d.latitude, d.longitude, d.since, d.last_update, d.activated
		 FROM devices d
		 JOIN tag_device td ON td.device_id = d.id
		 WHERE td.tag_id = ? AND d.uid = ?
		 ORDER BY d.id ASC`,
		tagID, uid)
	if err != nil {
		return nil, fmt.Errorf("listing tagged devices: %w", err)
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
		return nil, fmt.Errorf("iterating tagged devices: %w", err)
	}
	return devices, nil
}

// checkOwnership verifies both the tag and the device belong to uid.
func (r *SQLiteTagRepository) checkOwnership(ctx context.Context, uid, tagID, deviceID uint64) error {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tags WHERE id = ? AND uid = ?", tagID, uid).Scan(&n)
	if err != nil {
		return fmt.Errorf("checking tag ownership: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE id = ? AND uid = ?", deviceID, uid).Scan(&n)
	if err != nil {
		return fmt.Errorf("checking device ownership: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTag(s scanner) (*Tag, error) {
	var t Tag
	var activated int
	var since string

	err := s.Scan(&t.ID, &t.UID, &t.Name, &t.Description, &since, &activated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning tag: %w", err)
	}

	t.Activated = activated != 0
	t.Since, _ = time.Parse(time.RFC3339, since) //nolint:errcheck // format is controlled

	return &t, nil
}
