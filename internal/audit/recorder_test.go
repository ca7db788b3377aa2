package audit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRecorderPersistsHashedToken(t *testing.T) {
	store := NewInMemory()
	rec := NewRecorder(store)

	rec.Record(context.Background(), Event{
		UserID:      "user-1",
		Type:        EventLogin,
		AccessToken: "raw-access-token",
		Client:      ClientInfo{IP: "203.0.113.7", UserAgent: "go-test/1.0"},
		Successful:  true,
	})
	rec.Close()

	records, err := store.ListByUser(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("want 1 record, got %d", len(records))
	}
	got := records[0]
	if got.EventType != EventLogin {
		t.Fatalf("event type = %q", got.EventType)
	}
	sum := sha256.Sum256([]byte("raw-access-token"))
	if want := base64.StdEncoding.EncodeToString(sum[:]); got.AccessTokenHash != want {
		t.Fatalf("hash = %q, want %q", got.AccessTokenHash, want)
	}
	if got.AccessTokenHash == "raw-access-token" {
		t.Fatal("raw token must never be stored")
	}
	if got.IPAddress != "203.0.113.7" || got.UserAgent != "go-test/1.0" {
		t.Fatalf("client fields = %q / %q", got.IPAddress, got.UserAgent)
	}
	if got.ID == "" || got.EventTime.IsZero() {
		t.Fatalf("record missing id or time: %+v", got)
	}
}

func TestRecorderDefaultsUnknownClient(t *testing.T) {
	store := NewInMemory()
	rec := NewRecorder(store)

	rec.Record(context.Background(), Event{UserID: "user-1", Type: EventLogout, Successful: true})
	rec.Close()

	records, _ := store.ListByUser(context.Background(), "user-1", 10)
	if len(records) != 1 {
		t.Fatalf("want 1 record, got %d", len(records))
	}
	if records[0].IPAddress != "unknown" || records[0].UserAgent != "unknown" {
		t.Fatalf("want unknown client defaults, got %q / %q", records[0].IPAddress, records[0].UserAgent)
	}
	if records[0].AccessTokenHash != "" {
		t.Fatal("no access token supplied, hash must be empty")
	}
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errors.New("storage down")
}

func (s *failingStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	return nil, nil
}

func TestRecorderSwallowsStoreFailure(t *testing.T) {
	store := &failingStore{}
	rec := NewRecorder(store)

	// Record has no error return; a failing store must stay invisible
	// to the caller.
	rec.Record(context.Background(), Event{UserID: "user-1", Type: EventLogin, Successful: true})
	rec.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 1 {
		t.Fatalf("want 1 append attempt, got %d", store.calls)
	}
}

type blockingStore struct {
	release chan struct{}
	store   *InMemory
}

func (s *blockingStore) Append(ctx context.Context, rec *Record) error {
	<-s.release
	return s.store.Append(ctx, rec)
}

func (s *blockingStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

func TestRecorderDropsWhenBufferFull(t *testing.T) {
	blocking := &blockingStore{release: make(chan struct{}), store: NewInMemory()}
	rec := NewRecorder(blocking, WithBufferLen(1))

	// First event occupies the worker, second fills the buffer, the rest
	// must be dropped without blocking.
	for i := 0; i < 6; i++ {
		rec.Record(context.Background(), Event{UserID: "user-1", Type: EventLogin, Successful: true})
	}

	// The worker may not have picked up the first event yet, so between
	// 4 and 5 of the 6 events were dropped.
	if got := rec.Dropped(); got < 4 || got > 5 {
		t.Fatalf("dropped = %d, want 4 or 5", got)
	}

	close(blocking.release)
	rec.Close()

	records, _ := blocking.store.ListByUser(context.Background(), "user-1", 10)
	if want := 6 - int(rec.Dropped()); len(records) != want {
		t.Fatalf("persisted = %d, want %d", len(records), want)
	}
}

func TestRecorderCloseDrainsPending(t *testing.T) {
	store := NewInMemory()
	rec := NewRecorder(store, WithBufferLen(64))

	const n = 20
	for i := 0; i < n; i++ {
		rec.Record(context.Background(), Event{UserID: "user-1", Type: EventTokenRefresh, Successful: true})
	}
	rec.Close()

	records, _ := store.ListByUser(context.Background(), "user-1", n)
	if len(records) != n {
		t.Fatalf("want %d records after Close, got %d", n, len(records))
	}

	// Records after Close are no-ops.
	rec.Record(context.Background(), Event{UserID: "user-1", Type: EventLogin})
	records, _ = store.ListByUser(context.Background(), "user-1", n+1)
	if len(records) != n {
		t.Fatalf("record after Close must be ignored, got %d", len(records))
	}
}

func TestRecorderClockOverride(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemory()
	rec := NewRecorder(store, WithClock(func() time.Time { return fixed }))

	rec.Record(context.Background(), Event{UserID: "user-1", Type: EventLogin, Successful: true})
	rec.Close()

	records, _ := store.ListByUser(context.Background(), "user-1", 1)
	if len(records) != 1 || !records[0].EventTime.Equal(fixed) {
		t.Fatalf("event time not taken from clock: %+v", records)
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	a := HashToken("token-a")
	if a != HashToken("token-a") {
		t.Fatal("hash must be deterministic")
	}
	if a == HashToken("token-b") {
		t.Fatal("distinct tokens must hash differently")
	}
}
