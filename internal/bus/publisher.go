// Package bus turns activated orders into messages on the activation topic.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/shared/events"
)

// ActivationPublisher delivers one activation and reports whether the bus
// acknowledged it.
type ActivationPublisher interface {
	PublishActivation(ctx context.Context, o model.Order) error
}

// Producer is satisfied by kafkax.Producer.
type Producer interface {
	Produce(ctx context.Context, key, value []byte, timeout time.Duration) error
}

// ActivationMessage builds the flat record consumers receive.
func ActivationMessage(o model.Order) events.OrderActivated {
	return events.OrderActivated{
		Event:          events.OrderActivatedEvent,
		OrderID:        o.ID.String(),
		AdvertiserID:   o.AdvertiserID.String(),
		ProductLink:    o.ProductLink,
		Price:          o.Price.InexactFloat64(),
		BloggersNeeded: o.BloggersNeeded,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type KafkaPublisher struct {
	producer Producer
	timeout  time.Duration
}

// NewKafkaPublisher writes keyed by order id so all messages of one order
// land in the same partition. timeout bounds the wait for the ack.
func NewKafkaPublisher(p Producer, timeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{producer: p, timeout: timeout}
}

func (k *KafkaPublisher) PublishActivation(ctx context.Context, o model.Order) error {
	value, err := json.Marshal(ActivationMessage(o))
	if err != nil {
		return fmt.Errorf("marshal activation: %w", err)
	}
	if err := k.producer.Produce(ctx, []byte(o.ID.String()), value, k.timeout); err != nil {
		return fmt.Errorf("produce order %s: %w", o.ID, err)
	}
	return nil
}

// NoopPublisher is used when the bus is disabled; every publish succeeds.
type NoopPublisher struct{}

func (NoopPublisher) PublishActivation(context.Context, model.Order) error { return nil }
