// Package audit records authentication events in an append-only store.
// Recording is best-effort: a failure inside this package is logged and
// swallowed so it can never abort the authentication flow that caused it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// Event types form a closed enumeration; records are written with one of
// these values and never updated afterwards.
const (
	EventLogin        = "LOGIN"
	EventFailedLogin  = "FAILED_LOGIN"
	EventTokenRefresh = "TOKEN_REFRESH"
	EventTokenExpired = "TOKEN_EXPIRED"
	EventLogout       = "LOGOUT"
)

const unknownClient = "unknown"

// ClientInfo carries the caller's network identity. It is passed explicitly
// by the HTTP boundary rather than pulled from ambient request state.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Event describes an authentication event to record. AccessToken, when set,
// is hashed before persistence; the raw token never reaches storage.
type Event struct {
	UserID         string
	Type           string
	AccessToken    string
	RefreshTokenID string
	Client         ClientInfo
	Successful     bool
	FailureReason  string
}

// Record is the persisted, immutable form of an Event.
type Record struct {
	ID              string
	UserID          string
	EventType       string
	AccessTokenHash string
	RefreshTokenID  string
	IPAddress       string
	UserAgent       string
	EventTime       time.Time
	Successful      bool
	FailureReason   string
}

// Store appends and reads immutable audit records.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)
}

// HashToken computes the one-way digest stored in place of an access token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func orUnknown(s string) string {
	if s == "" {
		return unknownClient
	}
	return s
}
