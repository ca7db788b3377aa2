package auth

import (
	"context"
	"sync"
	"time"

	"authgate.dev/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It backs the
// service when no database is configured, and the state-machine tests.
type InMemory struct {
	mu        sync.RWMutex
	users     map[string]*User  // id -> user
	emails    map[string]string // email -> id
	phones    map[string][]Phone
	roles     map[string]*Role // name -> role
	userRoles map[string]map[string]struct{}
	tokens    map[string]*RefreshToken // token string -> record
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:     make(map[string]*User),
		emails:    make(map[string]string),
		phones:    make(map[string][]Phone),
		roles:     make(map[string]*Role),
		userRoles: make(map[string]map[string]struct{}),
		tokens:    make(map[string]*RefreshToken),
	}
}

func (s *InMemory) Users() UserStore                 { return (*memUserStore)(s) }
func (s *InMemory) Roles() RoleStore                 { return (*memRoleStore)(s) }
func (s *InMemory) RefreshTokens() RefreshTokenStore { return (*memTokenStore)(s) }

// User store ---------------------------------------------------------------
type memUserStore InMemory

func (s *memUserStore) Create(ctx context.Context, u *User, phones []Phone, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[u.Email]; ok {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	cp := *u
	s.users[u.ID] = &cp
	s.emails[u.Email] = u.ID
	for i := range phones {
		if phones[i].ID == "" {
			phones[i].ID = ids.New()
		}
		phones[i].UserID = u.ID
	}
	s.phones[u.ID] = append([]Phone(nil), phones...)
	if len(roleIDs) > 0 {
		assigned := make(map[string]struct{}, len(roleIDs))
		for _, roleID := range roleIDs {
			assigned[roleID] = struct{}{}
		}
		s.userRoles[u.ID] = assigned
	}
	return nil
}

func (s *memUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.Deleted {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.users[id]
	if u == nil || u.Deleted {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.LastLogin = at
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *memUserStore) Phones(ctx context.Context, userID string) ([]Phone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Phone(nil), s.phones[userID]...), nil
}

func (s *memUserStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Deleted = true
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// Role store ---------------------------------------------------------------
type memRoleStore InMemory

func (s *memRoleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (s *memRoleStore) Ensure(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, ok := s.roles[name]; ok {
			continue
		}
		s.roles[name] = &Role{ID: ids.New(), Name: name, CreatedAt: time.Now().UTC()}
	}
	return nil
}

func (s *memRoleStore) NamesForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, role := range s.roles {
		if _, ok := s.userRoles[userID][role.ID]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Refresh token ledger -----------------------------------------------------
type memTokenStore InMemory

func (s *memTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tok.Token]; ok {
		return ErrConflict
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	cp := *tok
	s.tokens[tok.Token] = &cp
	return nil
}

func (s *memTokenStore) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memTokenStore) FindByUser(ctx context.Context, userID string) ([]*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID {
			cp := *t
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *memTokenStore) Redeem(ctx context.Context, token string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.tokens, token)
	cp := *t
	return &cp, nil
}

func (s *memTokenStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, t := range s.tokens {
		if t.ID == id {
			delete(s.tokens, token)
			return nil
		}
	}
	return nil
}

func (s *memTokenStore) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, token)
		}
	}
	return nil
}
