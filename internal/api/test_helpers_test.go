package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/device"
	"github.com/riotcore/riot/internal/infrastructure/config"
	"github.com/riotcore/riot/internal/infrastructure/logging"
	"github.com/riotcore/riot/internal/mailer"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testEnv bundles a server, its router and direct repository access.
type testEnv struct {
	server  *Server
	handler http.Handler
	users   *auth.SQLiteUserRepository
	devices *device.SQLiteRepository
}

// testServer builds a fully wired server over a temp SQLite database.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
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
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT    NOT NULL UNIQUE,
			email         TEXT    NOT NULL UNIQUE,
			password_hash TEXT    NOT NULL,
			privilege     INTEGER NOT NULL DEFAULT 1,
			api_key       TEXT    NOT NULL UNIQUE,
			since         TEXT    NOT NULL,
			activated     INTEGER NOT NULL DEFAULT 0
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

	users := auth.NewUserRepository(db)
	devices := device.NewRepository(db)
	logger := logging.Default()

	rl := auth.NewRateLimiter(time.Minute)
	t.Cleanup(rl.Close)
	codes := auth.NewCodeStore(time.Hour)
	t.Cleanup(codes.Close)

	srv, err := New(Deps{
		Config: config.API{},
		Security: config.Security{
			JWT: config.JWT{Secret: testSecret, MaxAgeSeconds: 86400},
		},
		Logger:      logger,
		Users:       users,
		Resolver:    auth.NewResolver(users, []byte(testSecret)),
		Devices:     devices,
		Records:     device.NewRecordRepository(db),
		Tags:        device.NewTagRepository(db),
		RateLimiter: rl,
		Codes:       codes,
		Mailer:      mailer.NewLog(logger),
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{
		server:  srv,
		handler: srv.buildRouter(),
		users:   users,
		devices: devices,
	}
}

// seedUser creates an account directly in the repository.
func (e *testEnv) seedUser(t *testing.T, username string, privilege auth.Privilege, activated bool) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword("password123")
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	u := &auth.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Privilege:    privilege,
		APIKey:       auth.NewAPIKey(),
		Activated:    activated,
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("seeding user %s: %v", username, err)
	}
	return u
}

// token mints a session token for a user.
func (e *testEnv) token(t *testing.T, userID uint64) string {
	t.Helper()

	token, err := auth.GenerateToken(userID, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

// do performs a request against the router. body may be nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// decode unmarshals a JSON response body.
func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}
