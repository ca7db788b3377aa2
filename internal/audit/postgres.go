package audit

import (
	"context"
	"database/sql"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`insert into authentication_audit(id, user_id, event_type, access_token_hash, refresh_token_id,
		 ip_address, user_agent, event_time, successful, failure_reason)
		 values($1,$2,$3,nullif($4,''),nullif($5,''),$6,$7,$8,$9,nullif($10,''))`,
		rec.ID, rec.UserID, rec.EventType, rec.AccessTokenHash, rec.RefreshTokenID,
		rec.IPAddress, rec.UserAgent, rec.EventTime, rec.Successful, rec.FailureReason,
	)
	return err
}

func (s *PGStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, event_type, coalesce(access_token_hash,''), coalesce(refresh_token_id,''),
		 ip_address, user_agent, event_time, successful, coalesce(failure_reason,'')
		 from authentication_audit where user_id=$1 order by event_time desc limit $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.EventType, &rec.AccessTokenHash,
			&rec.RefreshTokenID, &rec.IPAddress, &rec.UserAgent, &rec.EventTime,
			&rec.Successful, &rec.FailureReason); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
