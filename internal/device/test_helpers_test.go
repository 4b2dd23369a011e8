package device

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the device schema
// applied. The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "device-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE users (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE
		);

		CREATE TABLE devices (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			uid         INTEGER NOT NULL REFERENCES users(id),
			name        TEXT    NOT NULL,
			description TEXT    NOT NULL DEFAULT '',
			dtype       INTEGER NOT NULL DEFAULT 0,
			topic       TEXT    NOT NULL,
			latitude    REAL    NOT NULL DEFAULT 0,
			longitude   REAL    NOT NULL DEFAULT 0,
			since       TEXT    NOT NULL,
			last_update TEXT    NOT NULL,
			activated   INTEGER NOT NULL DEFAULT 1,
			UNIQUE (uid, topic)
		);

		CREATE TABLE tags (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			uid         INTEGER NOT NULL REFERENCES users(id),
			name        TEXT    NOT NULL,
			description TEXT    NOT NULL DEFAULT '',
			since       TEXT    NOT NULL,
			activated   INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE tag_device (
			tag_id    INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			PRIMARY KEY (tag_id, device_id)
		);

		CREATE TABLE records (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL REFERENCES devices(id),
			payload   BLOB    NOT NULL,
			timestamp TEXT    NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	// Two owners to exercise scoping.
	if _, err := db.Exec("INSERT INTO users (username) VALUES ('alice'), ('bob')"); err != nil {
		t.Fatalf("seeding users: %v", err)
	}

	return db
}

// testDevice inserts a device with sensible defaults.
func testDevice(t *testing.T, repo *SQLiteRepository, uid uint64, topic string) *Device {
	t.Helper()

	d := &Device{
		UID:       uid,
		Name:      "sensor-" + topic,
		Topic:     topic,
		Activated: true,
	}
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("creating test device %s: %v", topic, err)
	}
	return d
}
