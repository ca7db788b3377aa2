package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"authgate.dev/internal/audit"
)

// DefaultRole is assigned at registration when the request names no roles.
const DefaultRole = "USER"

// AdminRole exists so deployments can seed an operator account.
const AdminRole = "ADMIN"

// EventRecorder is the write side of the audit subsystem. Implementations
// must never fail the caller; the method has no error return on purpose.
type EventRecorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// RegisterRequest carries the data needed to create a credential record.
type RegisterRequest struct {
	Email     string
	Name      string
	Password  string
	Phones    []Phone
	RoleNames []string
}

// AuthResponse is the token pair returned by register, authenticate and
// refresh.
type AuthResponse struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Active       bool
	Created      time.Time
	Modified     time.Time
	LastLogin    time.Time
}

// Service coordinates the credential store, token signer, refresh-token
// ledger and audit recorder. Each operation is a one-shot transition; no
// state is held across calls.
type Service struct {
	store    Store
	signer   *TokenSigner
	recorder EventRecorder
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the authentication service. recorder may be nil, in
// which case events are silently discarded.
func NewService(store Store, signer *TokenSigner, recorder EventRecorder, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("auth: store is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("auth: token signer is required")
	}
	svc := &Service{
		store:    store,
		signer:   signer,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Bootstrap ensures the built-in roles exist.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.store.Roles().Ensure(ctx, []string{DefaultRole, AdminRole})
}

// EnsureAdmin creates the operator account with the ADMIN role unless a user
// with that email already exists. Idempotent across restarts; an existing
// account is never modified.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return fmt.Errorf("%w: admin email and password are required", ErrInvalidInput)
	}
	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	roles, err := s.resolveRoles(ctx, []string{AdminRole})
	if err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user := &User{
		Email:        email,
		Name:         "Administrator",
		PasswordHash: hash,
		LastLogin:    s.now().UTC(),
	}
	if err := s.store.Users().Create(ctx, user, nil, roleIDsOf(roles)); err != nil {
		// A concurrent bootstrap already created it.
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return err
	}
	return nil
}

// Register creates a user with hashed credentials, assigns roles, issues a
// token pair and records a LOGIN event. Role resolution and the duplicate
// check run before any write, so an aborted registration leaves no state
// and no audit record behind.
func (s *Service) Register(ctx context.Context, req RegisterRequest, client audit.ClientInfo) (*AuthResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	roleNames := req.RoleNames
	if len(roleNames) == 0 {
		roleNames = []string{DefaultRole}
	}
	roles, err := s.resolveRoles(ctx, roleNames)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		LastLogin:    now,
	}
	if err := s.store.Users().Create(ctx, user, req.Phones, roleIDsOf(roles)); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, err
	}

	accessToken, refreshToken, err := s.issuePair(ctx, user, roleNamesOf(roles))
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.Event{
		UserID:         user.ID,
		Type:           audit.EventLogin,
		AccessToken:    accessToken,
		RefreshTokenID: refreshToken.ID,
		Client:         client,
		Successful:     true,
	})

	return s.response(user, accessToken, refreshToken), nil
}

// Authenticate verifies credentials and, on success, issues a fresh token
// pair and updates the last-login timestamp. A credential failure against an
// existing user records a FAILED_LOGIN event before the error surfaces; the
// event can neither suppress nor alter the error.
func (s *Service) Authenticate(ctx context.Context, email, password string, client audit.ClientInfo) (*AuthResponse, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}

	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.record(ctx, audit.Event{
			UserID:        user.ID,
			Type:          audit.EventFailedLogin,
			Client:        client,
			Successful:    false,
			FailureReason: "invalid credentials",
		})
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}

	roles, err := s.store.Roles().NamesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	accessToken, refreshToken, err := s.issuePair(ctx, user, roles)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.store.Users().UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLogin = now

	s.record(ctx, audit.Event{
		UserID:         user.ID,
		Type:           audit.EventLogin,
		AccessToken:    accessToken,
		RefreshTokenID: refreshToken.ID,
		Client:         client,
		Successful:     true,
	})

	return s.response(user, accessToken, refreshToken), nil
}

// Refresh redeems a refresh token and rotates it. Redemption consumes the
// row atomically, so the old token string is unusable from that point on
// regardless of what happens afterward; a concurrent redemption of the same
// string fails with NotFound.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client audit.ClientInfo) (*AuthResponse, error) {
	consumed, err := s.store.RefreshTokens().Redeem(ctx, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: refresh token not recognized", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if consumed.Expired(s.now().UTC()) {
		s.record(ctx, audit.Event{
			UserID:         consumed.UserID,
			Type:           audit.EventTokenExpired,
			RefreshTokenID: consumed.ID,
			Client:         client,
			Successful:     false,
			FailureReason:  "token expired",
		})
		return nil, fmt.Errorf("%w: refresh token expired", ErrUnauthorized)
	}

	user, err := s.store.Users().Find(ctx, consumed.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: refresh token owner no longer exists", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	roles, err := s.store.Roles().NamesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	accessToken, next, err := s.issuePair(ctx, user, roles)
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.Event{
		UserID:         user.ID,
		Type:           audit.EventTokenRefresh,
		AccessToken:    accessToken,
		RefreshTokenID: next.ID,
		Client:         client,
		Successful:     true,
	})

	return s.response(user, accessToken, next), nil
}

// Logout invalidates a refresh token. An unknown or already-invalidated
// token is not an error: the call succeeds silently and writes no audit
// record. For a live token the LOGOUT event is recorded before deletion so
// the record can still reference the token id.
func (s *Service) Logout(ctx context.Context, refreshToken string, client audit.ClientInfo) error {
	tok, err := s.store.RefreshTokens().FindByToken(ctx, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.record(ctx, audit.Event{
		UserID:         tok.UserID,
		Type:           audit.EventLogout,
		RefreshTokenID: tok.ID,
		Client:         client,
		Successful:     true,
	})
	return s.store.RefreshTokens().Delete(ctx, tok.ID)
}

// RemoveUser soft-deletes a credential record and bulk-invalidates every
// refresh token it owns.
func (s *Service) RemoveUser(ctx context.Context, userID string) error {
	if err := s.store.Users().Delete(ctx, userID); err != nil {
		return err
	}
	return s.store.RefreshTokens().DeleteByUser(ctx, userID)
}

// Profile returns a user's credential record and registered phones.
func (s *Service) Profile(ctx context.Context, userID string) (*User, []Phone, error) {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	phones, err := s.store.Users().Phones(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, phones, nil
}

// ParseAccessToken validates a bearer token for the protected endpoints.
func (s *Service) ParseAccessToken(token string) (*Claims, error) {
	return s.signer.ParseAndValidate(token)
}

// issuePair signs an access token and mints the paired refresh token.
// Minting never revokes prior tokens for the user: multiple concurrent
// sessions are allowed.
func (s *Service) issuePair(ctx context.Context, user *User, roles []string) (string, *RefreshToken, error) {
	accessToken, _, err := s.signer.IssueAccessToken(user, roles)
	if err != nil {
		return "", nil, err
	}
	refreshToken, err := s.mintRefreshToken(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}
	return accessToken, refreshToken, nil
}

func (s *Service) mintRefreshToken(ctx context.Context, userID string) (*RefreshToken, error) {
	opaque, err := NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	tok := &RefreshToken{
		Token:     opaque,
		UserID:    userID,
		ExpiresAt: s.now().UTC().Add(s.signer.RefreshTTL()),
	}
	if err := s.store.RefreshTokens().Create(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, ev)
}

func (s *Service) response(user *User, accessToken string, refreshToken *RefreshToken) *AuthResponse {
	return &AuthResponse{
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		Active:       !user.Deleted,
		Created:      user.CreatedAt,
		Modified:     user.UpdatedAt,
		LastLogin:    user.LastLogin,
	}
}

func (s *Service) resolveRoles(ctx context.Context, names []string) ([]*Role, error) {
	roles := make([]*Role, 0, len(names))
	for _, name := range names {
		role, err := s.store.Roles().FindByName(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: role %s not found", ErrNotFound, name)
		}
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func roleNamesOf(roles []*Role) []string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names
}

func roleIDsOf(roles []*Role) []string {
	roleIDs := make([]string, 0, len(roles))
	for _, role := range roles {
		roleIDs = append(roleIDs, role.ID)
	}
	return roleIDs
}
