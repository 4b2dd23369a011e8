package auth

import (
	"context"
	"errors"
	"testing"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testUser(t, repo, "alice")
	if alice.ID == 0 {
		t.Fatal("Create did not assign an ID")
	}

	byID, err := repo.GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Username != "alice" || byID.Privilege != PrivilegeNormal || !byID.Activated {
		t.Errorf("GetByID returned %+v", byID)
	}

	byKey, err := repo.GetByAPIKey(ctx, alice.APIKey)
	if err != nil {
		t.Fatalf("GetByAPIKey: %v", err)
	}
	if byKey.ID != alice.ID {
		t.Errorf("GetByAPIKey id = %d, want %d", byKey.ID, alice.ID)
	}
}

func TestUserRepository_GetByAccount(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testUser(t, repo, "alice")

	for _, account := range []string{"alice", "alice@example.com"} {
		got, err := repo.GetByAccount(ctx, account)
		if err != nil {
			t.Fatalf("GetByAccount(%q): %v", account, err)
		}
		if got.ID != alice.ID {
			t.Errorf("GetByAccount(%q) id = %d, want %d", account, got.ID, alice.ID)
		}
	}

	if _, err := repo.GetByAccount(ctx, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown account err = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_DuplicateConflicts(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testUser(t, repo, "alice")

	dup := &User{
		Username:     "alice",
		Email:        "other@example.com",
		PasswordHash: "x",
		APIKey:       NewAPIKey(),
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate username err = %v, want ErrUserExists", err)
	}

	dup = &User{
		Username:     "alice2",
		Email:        alice.Email,
		PasswordHash: "x",
		APIKey:       NewAPIKey(),
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate email err = %v, want ErrUserExists", err)
	}
}

func TestUserRepository_PartialUpdate(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testUser(t, repo, "alice")

	newEmail := "new@example.com"
	activated := false
	if err := repo.Update(ctx, alice.ID, UserUpdate{Email: &newEmail, Activated: &activated}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Email != newEmail {
		t.Errorf("email = %q, want %q", got.Email, newEmail)
	}
	if got.Activated {
		t.Error("activated should be false after update")
	}
	if got.Username != "alice" {
		t.Errorf("username changed unexpectedly to %q", got.Username)
	}

	// Empty update is a no-op, not an error.
	if err := repo.Update(ctx, alice.ID, UserUpdate{}); err != nil {
		t.Errorf("empty update err = %v, want nil", err)
	}

	// Updating a missing account fails.
	if err := repo.Update(ctx, 9999, UserUpdate{Email: &newEmail}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("missing account err = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_APIKeyRotation(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := testUser(t, repo, "alice")
	oldKey := alice.APIKey

	fresh := NewAPIKey()
	if err := repo.Update(ctx, alice.ID, UserUpdate{APIKey: &fresh}); err != nil {
		t.Fatalf("rotating api key: %v", err)
	}

	if _, err := repo.GetByAPIKey(ctx, oldKey); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("old key err = %v, want ErrUserNotFound", err)
	}
	got, err := repo.GetByAPIKey(ctx, fresh)
	if err != nil {
		t.Fatalf("fresh key lookup: %v", err)
	}
	if got.ID != alice.ID {
		t.Errorf("fresh key resolved id %d, want %d", got.ID, alice.ID)
	}
}

func TestUserRepository_Count(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}

	testUser(t, repo, "alice")
	testUser(t, repo, "bob")

	count, err = repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}
