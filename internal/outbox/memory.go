package outbox

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/k1networth/ugc-offers/internal/shared/db"
)

// MemoryStore is a Store for tests and local runs. Append joins a
// db.MemoryTxManager transaction and is undone on rollback.
type MemoryStore struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	seq    int64
	events map[uuid.UUID]*memRow
}

type memRow struct {
	ev        Event
	seq       int64
	startedAt time.Time
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{clock: clock, events: make(map[uuid.UUID]*memRow)}
}

func (s *MemoryStore) Append(ctx context.Context, ev Event) error {
	if !db.InTx(ctx) {
		return ErrTxRequired
	}
	if err := validateNew(ev); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
	}
	ev.Status = StatusPending
	ev.ProcessedAt = nil
	ev.Exhausted = false
	ev.Payload = append([]byte(nil), ev.Payload...)
	s.seq++
	s.events[ev.ID] = &memRow{ev: ev, seq: s.seq}

	id := ev.ID
	db.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.events, id)
		s.mu.Unlock()
	})
	return nil
}

func (s *MemoryStore) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.sorted(func(r *memRow) bool { return r.ev.Status == StatusPending })
	return s.take(rows, limit), nil
}

func (s *MemoryStore) ClaimBatch(ctx context.Context, limit int) ([]Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.sorted(claimable)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	now := s.clock.Now().UTC()
	for _, r := range rows {
		r.ev.Status = StatusProcessing
		r.startedAt = now
	}
	return s.take(rows, 0), nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.transition(id, StatusProcessing, claimable, func(r *memRow) {
		r.startedAt = s.clock.Now().UTC()
	})
}

func (s *MemoryStore) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transition(id, StatusPublished, nil, func(r *memRow) {
		t := at.UTC()
		r.ev.ProcessedAt = &t
		r.startedAt = time.Time{}
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	return s.transition(id, StatusFailed, nil, func(r *memRow) {
		r.ev.LastError = errMsg
		r.ev.RetryCount = max(r.ev.RetryCount, retryCount)
		r.startedAt = time.Time{}
	})
}

func (s *MemoryStore) MarkExhausted(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.transition(id, StatusFailed, nil, func(r *memRow) {
		r.ev.LastError = errMsg
		r.ev.Exhausted = true
		r.startedAt = time.Time{}
	})
}

func (s *MemoryStore) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.clock.Now().UTC().Add(-olderThan)
	var n int64
	for _, r := range s.events {
		if r.ev.Status != StatusProcessing || !r.startedAt.Before(threshold) {
			continue
		}
		r.ev.Status = StatusFailed
		r.ev.RetryCount++
		r.ev.LastError = stuckError
		r.startedAt = time.Time{}
		n++
	}
	return n, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.events[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return copyEvent(r.ev), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Counts: make(map[Status]int64)}
	var oldest time.Time
	for _, r := range s.events {
		st.Counts[r.ev.Status]++
		if r.ev.Exhausted {
			st.Exhausted++
		}
		if r.ev.Status == StatusPending && (oldest.IsZero() || r.ev.CreatedAt.Before(oldest)) {
			oldest = r.ev.CreatedAt
		}
	}
	if !oldest.IsZero() {
		st.OldestPendingAge = s.clock.Now().Sub(oldest)
	}
	return st, nil
}

func (s *MemoryStore) transition(id uuid.UUID, to Status, allowed func(*memRow) bool, apply func(*memRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.events[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	ok = r.ev.Status.CanTransitionTo(to)
	if allowed != nil {
		ok = ok && allowed(r)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s -> %s", ErrTransitionConflict, id, r.ev.Status, to)
	}
	r.ev.Status = to
	apply(r)
	return nil
}

func claimable(r *memRow) bool {
	switch r.ev.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return !r.ev.Exhausted
	default:
		return false
	}
}

// sorted returns matching rows by created_at, insertion order breaking ties.
func (s *MemoryStore) sorted(match func(*memRow) bool) []*memRow {
	var rows []*memRow
	for _, r := range s.events {
		if match(r) {
			rows = append(rows, r)
		}
	}
	slices.SortFunc(rows, func(a, b *memRow) int {
		if c := a.ev.CreatedAt.Compare(b.ev.CreatedAt); c != 0 {
			return c
		}
		return int(a.seq - b.seq)
	})
	return rows
}

func (s *MemoryStore) take(rows []*memRow, limit int) []Event {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, copyEvent(r.ev))
	}
	return out
}

func copyEvent(ev Event) Event {
	ev.Payload = append([]byte(nil), ev.Payload...)
	if ev.ProcessedAt != nil {
		t := *ev.ProcessedAt
		ev.ProcessedAt = &t
	}
	return ev
}

func validateNew(ev Event) error {
	switch {
	case ev.ID == uuid.Nil:
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	case ev.Type == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case ev.AggregateID == "":
		return fmt.Errorf("%w: missing aggregate id", ErrInvalidEvent)
	case len(ev.Payload) == 0:
		return fmt.Errorf("%w: empty payload", ErrInvalidEvent)
	}
	return nil
}
