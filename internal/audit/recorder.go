package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"authgate.dev/internal/ids"
	"authgate.dev/internal/obs"
)

const defaultBufferLen = 256

// Recorder accepts authentication events and writes them to the Store from a
// single background worker. Record never blocks the caller and never returns
// an error: when the buffer is full the event is counted as dropped, and a
// storage failure is logged and discarded.
type Recorder struct {
	store Store
	now   func() time.Time

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBufferLen sets the dispatch channel capacity.
func WithBufferLen(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan Event, n)
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder starts the background worker.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
		now:   time.Now,
		ch:    make(chan Event, defaultBufferLen),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues an event for persistence. It is safe to call from any
// goroutine and returns immediately.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.ch <- ev:
	default:
		r.dropped.Add(1)
		obs.AuditDropped()
	}
}

// Close drains pending events and stops the worker. Further Record calls
// become no-ops.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped reports how many events were lost to backpressure.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.ch:
			r.persist(ev)
		case <-r.done:
			for {
				select {
				case ev := <-r.ch:
					r.persist(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(ev Event) {
	rec := &Record{
		ID:             ids.New(),
		UserID:         ev.UserID,
		EventType:      ev.Type,
		RefreshTokenID: ev.RefreshTokenID,
		IPAddress:      orUnknown(ev.Client.IP),
		UserAgent:      orUnknown(ev.Client.UserAgent),
		EventTime:      r.now().UTC(),
		Successful:     ev.Successful,
		FailureReason:  ev.FailureReason,
	}
	if ev.AccessToken != "" {
		rec.AccessTokenHash = HashToken(ev.AccessToken)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.Append(ctx, rec); err != nil {
		obs.LogEvent(map[string]any{
			"level": "error",
			"msg":   "audit append failed",
			"event": ev.Type,
			"user":  ev.UserID,
			"error": err.Error(),
		})
		return
	}
	obs.AuthEvent(rec.EventType, rec.Successful)
}
