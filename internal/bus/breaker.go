package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
	"github.com/sony/gobreaker"
)

// ErrBusUnavailable wraps rejections made while the breaker is open or
// probing.
var ErrBusUnavailable = errors.New("message bus unavailable")

type BreakerConfig struct {
	Name string
	// ConsecutiveFailures trips the breaker; 0 means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	Log         *slog.Logger
}

// BreakerPublisher fails fast while the inner publisher keeps failing, so a
// drain pass against a dead broker does not wait out every write timeout.
type BreakerPublisher struct {
	next ActivationPublisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next ActivationPublisher, cfg BreakerConfig) *BreakerPublisher {
	if cfg.Name == "" {
		cfg.Name = "kafka-activation"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	log := cfg.Log

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// A cancelled caller says nothing about the broker.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit_breaker_state",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &BreakerPublisher{next: next, cb: cb}
}

func (b *BreakerPublisher) PublishActivation(ctx context.Context, o model.Order) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.PublishActivation(ctx, o)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrBusUnavailable, err)
	}
	return err
}

func (b *BreakerPublisher) State() string { return b.cb.State().String() }
