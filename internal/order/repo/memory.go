package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/shared/db"
)

// InMemory is a Repository for tests and local runs. Writes made inside a
// db.MemoryTxManager transaction are undone on rollback.
type InMemory struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]model.Order
}

func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[uuid.UUID]model.Order)}
}

func (s *InMemory) Create(ctx context.Context, o model.Order) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	s.byID[o.ID] = o

	id := o.ID
	db.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.byID, id)
		s.mu.Unlock()
	})
	return o, nil
}

func (s *InMemory) GetByID(ctx context.Context, id uuid.UUID) (model.Order, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.byID[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (s *InMemory) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byID[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	next := prev
	next.Status = status
	next.UpdatedAt = time.Now().UTC()
	s.byID[id] = next

	db.OnRollback(ctx, func() {
		s.mu.Lock()
		s.byID[id] = prev
		s.mu.Unlock()
	})
	return next, nil
}
