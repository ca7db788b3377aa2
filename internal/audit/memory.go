package audit

import (
	"context"
	"sync"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It backs the
// service when no database is configured and the audit assertions in tests.
type InMemory struct {
	mu   sync.RWMutex
	recs []Record
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *InMemory) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Record
	for i := len(s.recs) - 1; i >= 0 && len(res) < limit; i-- {
		if s.recs[i].UserID == userID {
			res = append(res, s.recs[i])
		}
	}
	return res, nil
}
