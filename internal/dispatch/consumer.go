package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
	"github.com/segmentio/kafka-go"
)

// Source is satisfied by kafkax.Consumer.
type Source interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// reopener rewinds a source to its last committed offset.
type reopener interface {
	Reopen()
}

type MessageHandler interface {
	Handle(ctx context.Context, value []byte) error
}

type ConsumerConfig struct {
	// Backoff is the pause after a fetch or handler error; 0 means 300ms.
	Backoff time.Duration
	Clock   clockwork.Clock
	Log     *slog.Logger
}

// Consumer commits a message only after its handler succeeded. A handler
// error rewinds the source so the message comes back.
type Consumer struct {
	src     Source
	handler MessageHandler
	cfg     ConsumerConfig
}

func NewConsumer(src Source, h MessageHandler, cfg ConsumerConfig) *Consumer {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 300 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	return &Consumer{src: src, handler: h, cfg: cfg}
}

// Run blocks until ctx is cancelled and then returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.cfg.Log
	for {
		if ctx.Err() != nil {
			log.Info("consumer_shutdown")
			return nil
		}

		msg, err := c.src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error("kafka_fetch_failed", slog.String("err", err.Error()))
			c.pause(ctx)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				continue
			}
			log.Error("message_handle_failed",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("err", err.Error()),
			)
			if r, ok := c.src.(reopener); ok {
				r.Reopen()
			}
			c.pause(ctx)
			continue
		}

		if err := c.src.CommitMessages(ctx, msg); err != nil {
			log.Error("kafka_commit_failed", slog.Int64("offset", msg.Offset), slog.String("err", err.Error()))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// Committed anyway so one poison message cannot wedge the partition.
			c.cfg.Log.Error("message_handler_panic", slog.Any("panic", r), slog.Int64("offset", msg.Offset))
			err = nil
		}
	}()
	return c.handler.Handle(ctx, msg.Value)
}

func (c *Consumer) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.cfg.Clock.After(c.cfg.Backoff):
	}
}
