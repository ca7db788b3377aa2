package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("insert into authentication_audit").
		WithArgs("rec-1", "user-1", EventLogin, "hash", "tok-1", "203.0.113.7", "go-test/1.0",
			now, true, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	err = store.Append(context.Background(), &Record{
		ID:              "rec-1",
		UserID:          "user-1",
		EventType:       EventLogin,
		AccessTokenHash: "hash",
		RefreshTokenID:  "tok-1",
		IPAddress:       "203.0.113.7",
		UserAgent:       "go-test/1.0",
		EventTime:       now,
		Successful:      true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGListByUserClampsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select id, user_id, event_type").
		WithArgs("user-1", 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "event_type", "access_token_hash", "refresh_token_id",
			"ip_address", "user_agent", "event_time", "successful", "failure_reason",
		}).AddRow("rec-1", "user-1", EventLogout, "", "tok-1", "unknown", "unknown", now, true, ""))

	store := NewPGStore(db)
	records, err := store.ListByUser(context.Background(), "user-1", -5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].EventType != EventLogout {
		t.Fatalf("unexpected records: %+v", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
