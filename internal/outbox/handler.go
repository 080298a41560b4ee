package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/order/repo"
)

// ActivationClient delivers an order activation to the message bus.
type ActivationClient interface {
	PublishActivation(ctx context.Context, o model.Order) error
}

type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Order, error)
}

// Handler performs the side effect for one event type.
type Handler func(ctx context.Context, client ActivationClient, ev Event) error

type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

func (r *HandlerRegistry) Register(eventType string, h Handler) error {
	if eventType == "" || h == nil {
		return fmt.Errorf("%w: empty event type or nil handler", ErrInvalidEvent)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, eventType)
	}
	r.handlers[eventType] = h
	return nil
}

func (r *HandlerRegistry) Handle(ctx context.Context, client ActivationClient, ev Event) error {
	r.mu.RLock()
	h, ok := r.handlers[ev.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
	return h(ctx, client, ev)
}

// OrderActivatedHandler reloads the order so the bus always carries current
// state, then hands it to the client.
func OrderActivatedHandler(orders OrderReader) Handler {
	return func(ctx context.Context, client ActivationClient, ev Event) error {
		id, err := uuid.Parse(ev.AggregateID)
		if err != nil {
			return fmt.Errorf("%w: bad order id %q", ErrAggregateNotFound, ev.AggregateID)
		}
		o, err := orders.GetByID(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: order %s", ErrAggregateNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("reload order %s: %w", id, err)
		}
		if err := client.PublishActivation(ctx, o); err != nil {
			return fmt.Errorf("publish activation: %w", err)
		}
		return nil
	}
}
