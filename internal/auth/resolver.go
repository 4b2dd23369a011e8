package auth

import "context"

// Resolver turns raw credentials into accounts. Resolution is a pure
// lookup: it never touches cookies, writes responses, or mutates state.
type Resolver struct {
	users  UserRepository
	secret []byte
}

// NewResolver creates a Resolver over the given repository and token
// signing secret.
func NewResolver(users UserRepository, secret []byte) *Resolver {
	return &Resolver{users: users, secret: secret}
}

// ResolveToken verifies a session token and loads the account it was
// minted for.
//
// Returns ErrTokenInvalid for any verification failure, and
// ErrUserNotFound for a well-signed token whose subject no longer
// exists. The two are deliberately distinct: callers log them apart
// even when the user-facing response stays generic.
func (r *Resolver) ResolveToken(ctx context.Context, raw string) (*User, error) {
	userID, err := ParseToken(raw, r.secret)
	if err != nil {
		return nil, err
	}
	return r.users.GetByID(ctx, userID)
}

// ResolveAPIKey loads the account owning an ingestion credential.
// Returns ErrUserNotFound for an unknown key.
func (r *Resolver) ResolveAPIKey(ctx context.Context, key string) (*User, error) {
	if key == "" {
		return nil, ErrUserNotFound
	}
	return r.users.GetByAPIKey(ctx, key)
}
