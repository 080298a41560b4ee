package bus_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/bus"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

type recordingProducer struct {
	err     error
	keys    [][]byte
	values  [][]byte
	timeout time.Duration
}

func (p *recordingProducer) Produce(_ context.Context, key, value []byte, timeout time.Duration) error {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	p.timeout = timeout
	return p.err
}

type countingPublisher struct {
	err   error
	calls int
}

func (p *countingPublisher) PublishActivation(context.Context, model.Order) error {
	p.calls++
	return p.err
}

func testOrder() model.Order {
	return model.Order{
		ID:             uuid.MustParse("7d5e1a7c-3d0b-4c55-9a43-0d1f2bb1e001"),
		AdvertiserID:   uuid.MustParse("7d5e1a7c-3d0b-4c55-9a43-0d1f2bb1e002"),
		ProductLink:    "https://example.com/p/1",
		OfferText:      "Unboxing video",
		Price:          decimal.RequireFromString("1500.50"),
		BloggersNeeded: 2,
		Status:         model.StatusActive,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisherWritesFlatMessageKeyedByOrder(t *testing.T) {
	p := &recordingProducer{}
	pub := bus.NewKafkaPublisher(p, 3*time.Second)

	o := testOrder()
	require.NoError(t, pub.PublishActivation(context.Background(), o))

	require.Len(t, p.values, 1)
	assert.Equal(t, o.ID.String(), string(p.keys[0]))
	assert.Equal(t, 3*time.Second, p.timeout)

	var got map[string]any
	require.NoError(t, json.Unmarshal(p.values[0], &got))
	assert.Equal(t, map[string]any{
		"event":           "order_activated",
		"order_id":        o.ID.String(),
		"advertiser_id":   o.AdvertiserID.String(),
		"product_link":    "https://example.com/p/1",
		"price":           1500.5,
		"bloggers_needed": float64(2),
		"status":          "active",
		"created_at":      "2026-03-01T12:00:00Z",
	}, got)
}

func TestKafkaPublisherReturnsProducerError(t *testing.T) {
	pub := bus.NewKafkaPublisher(&recordingProducer{err: errBroker}, time.Second)
	err := pub.PublishActivation(context.Background(), testOrder())
	require.ErrorIs(t, err, errBroker)
}

func TestNoopPublisherSucceeds(t *testing.T) {
	require.NoError(t, bus.NoopPublisher{}.PublishActivation(context.Background(), testOrder()))
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	inner := &countingPublisher{err: errBroker}
	b := bus.NewBreakerPublisher(inner, bus.BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour})
	ctx := context.Background()

	for range 2 {
		require.ErrorIs(t, b.PublishActivation(ctx, testOrder()), errBroker)
	}
	assert.Equal(t, "open", b.State())

	err := b.PublishActivation(ctx, testOrder())
	require.ErrorIs(t, err, bus.ErrBusUnavailable)
	assert.Equal(t, 2, inner.calls)
}

func TestBreakerIgnoresCancelledCallers(t *testing.T) {
	inner := &countingPublisher{err: context.Canceled}
	b := bus.NewBreakerPublisher(inner, bus.BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Hour})

	for range 3 {
		require.ErrorIs(t, b.PublishActivation(context.Background(), testOrder()), context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, 3, inner.calls)
}
