package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"authgate.dev/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) Roles() RoleStore                 { return &roleStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &tokenStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User, phones []Phone, roleIDs []string) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if _, err := tx.ExecContext(ctx,
		`insert into users(id, email, name, password_hash, last_login, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.LastLogin, u.CreatedAt, u.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	for i := range phones {
		if phones[i].ID == "" {
			phones[i].ID = ids.New()
		}
		phones[i].UserID = u.ID
		if _, err := tx.ExecContext(ctx,
			`insert into phones(id, user_id, number, city_code, country_code) values($1,$2,$3,$4,$5)`,
			phones[i].ID, u.ID, phones[i].Number, phones[i].CityCode, phones[i].CountryCode,
		); err != nil {
			return err
		}
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into user_roles(user_id, role_id) values($1,$2) on conflict do nothing`,
			u.ID, roleID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, last_login, deleted_at is not null, created_at, updated_at
		 from users where id=$1 and deleted_at is null`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, last_login, deleted_at is not null, created_at, updated_at
		 from users where email=$1 and deleted_at is null`, email))
}

func (s *userStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login=$2, updated_at=now() where id=$1`, userID, at)
	return err
}

func (s *userStore) Phones(ctx context.Context, userID string) ([]Phone, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, number, city_code, country_code from phones where user_id=$1 order by id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Phone
	for rows.Next() {
		var p Phone
		if err := rows.Scan(&p.ID, &p.UserID, &p.Number, &p.CityCode, &p.CountryCode); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set deleted_at=now(), updated_at=now() where id=$1 and deleted_at is null`, id)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.LastLogin,
		&u.Deleted, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Role store ---------------------------------------------------------------
type roleStore struct{ db *sql.DB }

func (s *roleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		`select id, name, created_at from roles where name=$1`, name,
	).Scan(&role.ID, &role.Name, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *roleStore) Ensure(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx,
			`insert into roles(id, name) values($1,$2) on conflict (name) do nothing`,
			ids.New(), name,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *roleStore) NamesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.name from roles r join user_roles ur on ur.role_id=r.id where ur.user_id=$1 order by r.name`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Refresh token ledger -----------------------------------------------------
type tokenStore struct{ db *sql.DB }

func (s *tokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, token, user_id, expires_at, created_at) values($1,$2,$3,$4,$5)`,
		tok.ID, tok.Token, tok.UserID, tok.ExpiresAt, tok.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *tokenStore) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	return scanToken(s.db.QueryRowContext(ctx,
		`select id, token, user_id, expires_at, created_at from refresh_tokens where token=$1`, token))
}

func (s *tokenStore) FindByUser(ctx context.Context, userID string) ([]*RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, token, user_id, expires_at, created_at from refresh_tokens where user_id=$1 order by created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.ID, &t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &t)
	}
	return res, rows.Err()
}

// Redeem deletes the row and returns it in one statement, so two concurrent
// redemptions of the same token string cannot both succeed.
func (s *tokenStore) Redeem(ctx context.Context, token string) (*RefreshToken, error) {
	return scanToken(s.db.QueryRowContext(ctx,
		`delete from refresh_tokens where token=$1 returning id, token, user_id, expires_at, created_at`,
		token))
}

func (s *tokenStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where id=$1`, id)
	return err
}

func (s *tokenStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, userID)
	return err
}

func scanToken(row *sql.Row) (*RefreshToken, error) {
	var t RefreshToken
	if err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// isUniqueViolation matches Postgres unique-constraint failures (SQLSTATE
// 23505) without binding the package to a specific driver error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint")
}
