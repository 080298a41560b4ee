package user

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type InMemoryDirectory struct {
	mu    sync.RWMutex
	order []uuid.UUID
	byID  map[uuid.UUID]User
}

func NewInMemoryDirectory(users ...User) *InMemoryDirectory {
	d := &InMemoryDirectory{byID: make(map[uuid.UUID]User)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

func (d *InMemoryDirectory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[u.ID]; !ok {
		d.order = append(d.order, u.ID)
	}
	d.byID[u.ID] = u
}

func (d *InMemoryDirectory) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (d *InMemoryDirectory) ListConfirmedRecipients(ctx context.Context, role Role) ([]User, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []User
	for _, id := range d.order {
		u := d.byID[id]
		if u.Confirmed && u.HasRole(role) {
			out = append(out, u)
		}
	}
	return out, nil
}
