package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/order/repo"
	"github.com/k1networth/ugc-offers/internal/outbox"
	"github.com/k1networth/ugc-offers/internal/shared/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

type fakeClient struct {
	mu    sync.Mutex
	err   error
	calls []uuid.UUID
}

func (c *fakeClient) PublishActivation(_ context.Context, o model.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, o.ID)
	return c.err
}

func (c *fakeClient) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fixture struct {
	clock  *clockwork.FakeClock
	orders *repo.InMemory
	store  *outbox.MemoryStore
	tx     *db.MemoryTxManager
	pub    *outbox.Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	orders := repo.NewInMemory()
	store := outbox.NewMemoryStore(clock)
	return &fixture{
		clock:  clock,
		orders: orders,
		store:  store,
		tx:     db.NewMemoryTxManager(),
		pub:    outbox.NewPublisher(store, orders, outbox.PublisherConfig{BatchSize: 10, Clock: clock}),
	}
}

func (f *fixture) newOrder(t *testing.T) model.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), model.Order{
		AdvertiserID:   uuid.New(),
		ProductLink:    "https://example.com/p/1",
		OfferText:      "Unboxing video",
		Price:          decimal.RequireFromString("1500.50"),
		BloggersNeeded: 3,
		Status:         model.StatusActive,
	})
	require.NoError(t, err)
	return o
}

// appendActivation appends an order.activated event and returns its id.
func (f *fixture) appendActivation(t *testing.T, o model.Order) uuid.UUID {
	t.Helper()
	before, err := f.store.FetchPending(context.Background(), 0)
	require.NoError(t, err)

	err = f.tx.WithinTx(context.Background(), func(ctx context.Context) error {
		return f.pub.AppendOrderActivated(ctx, o)
	})
	require.NoError(t, err)

	after, err := f.store.FetchPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	for _, ev := range after {
		if ev.AggregateID == o.ID.String() {
			return ev.ID
		}
	}
	t.Fatalf("appended event not found")
	return uuid.Nil
}

func (f *fixture) get(t *testing.T, id uuid.UUID) outbox.Event {
	t.Helper()
	ev, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return ev
}
