package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the authentication
// service.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	RefreshTokens() RefreshTokenStore
}

// UserStore manages credential records. Lookups exclude soft-deleted users;
// the visibility predicate lives here, not in callers.
type UserStore interface {
	// Create persists the user, associated phones and role assignments as
	// one atomic unit: a failure on any part leaves no user row behind, so
	// the email stays available for a retry.
	Create(ctx context.Context, u *User, phones []Phone, roleIDs []string) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	Phones(ctx context.Context, userID string) ([]Phone, error)
	// Delete soft-deletes the user; the record stays for audit references.
	Delete(ctx context.Context, id string) error
}

// RoleStore resolves and seeds role names. Role assignment happens inside
// UserStore.Create, not here.
type RoleStore interface {
	FindByName(ctx context.Context, name string) (*Role, error)
	Ensure(ctx context.Context, names []string) error
	NamesForUser(ctx context.Context, userID string) ([]string, error)
}

// RefreshTokenStore is the refresh-token ledger. Token strings are matched
// exactly; there is no normalization or partial matching.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// FindByToken looks up a live token without consuming it.
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	FindByUser(ctx context.Context, userID string) ([]*RefreshToken, error)
	// Redeem atomically removes the row matching the token string and
	// returns it. Concurrent redemptions of the same string admit exactly
	// one winner; losers get ErrNotFound.
	Redeem(ctx context.Context, token string) (*RefreshToken, error)
	// Delete removes a token by id. Deleting an absent token is a no-op.
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
}
