package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserRepository defines the interface for account persistence.
//
// GetByAPIKey sits on the ingestion hot path: every MQTT message
// triggers one lookup, backed by the unique api_key index.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uint64) (*User, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*User, error)
	GetByAccount(ctx context.Context, account string) (*User, error)
	Update(ctx context.Context, id uint64, upd UserUpdate) error
	Count(ctx context.Context) (int, error)
}

// UserUpdate describes a partial account update. Nil fields are left
// untouched.
type UserUpdate struct {
	Username     *string
	Email        *string
	PasswordHash *string
	APIKey       *string
	Activated    *bool
}

func (u UserUpdate) empty() bool {
	return u.Username == nil && u.Email == nil && u.PasswordHash == nil &&
		u.APIKey == nil && u.Activated == nil
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = "id, username, email, password_hash, privilege, api_key, since, activated"

// Create inserts a new account. The caller supplies the password hash
// and API key; Since is set here. Duplicate username, email or API key
// returns ErrUserExists.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	user.Since = time.Now().UTC().Truncate(time.Second)

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, privilege, api_key, since, activated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Username, user.Email, user.PasswordHash, uint32(user.Privilege),
		user.APIKey, user.Since.Format(time.RFC3339), boolToInt(user.Activated),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading new user id: %w", err)
	}
	user.ID = uint64(id) //nolint:gosec // G115: SQLite rowids are positive

	return nil
}

// GetByID retrieves an account by its unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id uint64) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByAPIKey retrieves an account by its ingestion credential.
func (r *SQLiteUserRepository) GetByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE api_key = ?", apiKey)
}

// GetByAccount retrieves an account by username or email, whichever
// matches. This backs the login form's single account field.
func (r *SQLiteUserRepository) GetByAccount(ctx context.Context, account string) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? OR email = ?",
		account, account)
}

// Update applies a partial account update. ErrUserNotFound when the
// account does not exist; ErrUserExists on a uniqueness conflict.
func (r *SQLiteUserRepository) Update(ctx context.Context, id uint64, upd UserUpdate) error {
	if upd.empty() {
		return nil
	}

	var sets []string
	var args []any
	if upd.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *upd.Username)
	}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *upd.PasswordHash)
	}
	if upd.APIKey != nil {
		sets = append(sets, "api_key = ?")
		args = append(args, *upd.APIKey)
	}
	if upd.Activated != nil {
		sets = append(sets, "activated = ?")
		args = append(args, boolToInt(*upd.Activated))
	}
	args = append(args, id)

	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("updating user: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Count returns the total number of accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// getUser executes a query and scans a single user result.
func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	var privilege uint32
	var activated int
	var since string

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&privilege, &u.APIKey, &since, &activated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Privilege = Privilege(privilege)
	u.Activated = activated != 0
	u.Since, _ = time.Parse(time.RFC3339, since) //nolint:errcheck // format is controlled

	return &u, nil
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
