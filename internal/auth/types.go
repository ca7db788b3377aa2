package auth

import "time"

// User is the credential record. Deleted users stay in storage but are
// invisible to credential lookups.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	LastLogin    time.Time
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role names group users for token claims. Registration resolves requested
// role names against this table.
type Role struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Phone is contact data captured at registration and stored with the user.
type Phone struct {
	ID          string
	UserID      string
	Number      string
	CityCode    string
	CountryCode string
}

// RefreshToken maps an opaque token string to its owner and expiry. Rows are
// created on issuance and deleted on rotation, logout or expiry detection;
// they are never updated in place.
type RefreshToken struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token's expiry instant has passed.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
