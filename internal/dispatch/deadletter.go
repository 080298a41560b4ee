package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/k1networth/ugc-offers/internal/shared/events"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
)

// DeadLetterPublisher is best effort: failures are logged by the
// implementation and never reach the dispatcher.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg events.OfferSendFailed)
}

// Producer is satisfied by kafkax.Producer.
type Producer interface {
	Produce(ctx context.Context, key, value []byte, timeout time.Duration) error
}

type KafkaDeadLetter struct {
	producer Producer
	timeout  time.Duration
	log      *slog.Logger
}

func NewKafkaDeadLetter(p Producer, timeout time.Duration, log *slog.Logger) *KafkaDeadLetter {
	if log == nil {
		log = logger.Discard()
	}
	return &KafkaDeadLetter{producer: p, timeout: timeout, log: log}
}

func (d *KafkaDeadLetter) Publish(ctx context.Context, msg events.OfferSendFailed) {
	msg.Event = events.OfferSendFailedEvent
	value, err := json.Marshal(msg)
	if err == nil {
		err = d.producer.Produce(ctx, []byte(msg.OrderID), value, d.timeout)
	}
	if err != nil {
		d.log.Error("dlq_publish_failed",
			slog.String("order_id", msg.OrderID),
			slog.String("recipient_id", msg.RecipientID),
			slog.String("err", err.Error()),
		)
	}
}

// NoopDeadLetter drops records; used when the bus is disabled.
type NoopDeadLetter struct{}

func (NoopDeadLetter) Publish(context.Context, events.OfferSendFailed) {}
