package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/dispatch"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/order/repo"
	"github.com/k1networth/ugc-offers/internal/shared/events"
	"github.com/k1networth/ugc-offers/internal/shared/retry"
	"github.com/k1networth/ugc-offers/internal/user"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var errSend = errors.New("telegram unavailable")

type fakeSender struct {
	mu      sync.Mutex
	failFor map[uuid.UUID]error
	calls   map[uuid.UUID]int
	offers  []dispatch.Offer
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: make(map[uuid.UUID]error), calls: make(map[uuid.UUID]int)}
}

func (s *fakeSender) SendOffer(_ context.Context, to user.User, offer dispatch.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[to.ID]++
	if err := s.failFor[to.ID]; err != nil {
		return err
	}
	s.offers = append(s.offers, offer)
	return nil
}

func (s *fakeSender) attempts(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *fakeSender) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []events.OfferSendFailed
}

func (d *fakeDLQ) Publish(_ context.Context, msg events.OfferSendFailed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
}

// countingDirectory records lookups and can be made to fail.
type countingDirectory struct {
	*user.InMemoryDirectory
	mu      sync.Mutex
	lookups int
	err     error
}

func (d *countingDirectory) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	d.mu.Lock()
	d.lookups++
	d.mu.Unlock()
	return d.InMemoryDirectory.GetByID(ctx, id)
}

func (d *countingDirectory) ListConfirmedRecipients(ctx context.Context, role user.Role) ([]user.User, error) {
	d.mu.Lock()
	d.lookups++
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.InMemoryDirectory.ListConfirmedRecipients(ctx, role)
}

type fixture struct {
	orders     *repo.InMemory
	users      *countingDirectory
	sender     *fakeSender
	dlq        *fakeDLQ
	log        *dispatch.MemoryLog
	d          *dispatch.Dispatcher
	advertiser user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders: repo.NewInMemory(),
		users:  &countingDirectory{InMemoryDirectory: user.NewInMemoryDirectory()},
		sender: newFakeSender(),
		dlq:    &fakeDLQ{},
		log:    dispatch.NewMemoryLog(),
	}
	f.advertiser = f.addUser("100", user.RoleBoth, user.StatusActive)
	f.d = dispatch.NewDispatcher(f.orders, f.users, f.sender, f.dlq, f.log, dispatch.Config{
		Retry: retry.Policy{MaxAttempts: 3},
	})
	return f
}

func (f *fixture) addUser(externalID string, role user.Role, status user.Status) user.User {
	u := user.User{
		ID:         uuid.New(),
		ExternalID: externalID,
		Username:   "user" + externalID,
		Role:       role,
		Status:     status,
		Confirmed:  true,
	}
	f.users.Put(u)
	return u
}

func (f *fixture) addOrder(t *testing.T, status model.Status, bloggersNeeded int) model.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), model.Order{
		AdvertiserID:   f.advertiser.ID,
		ProductLink:    "https://example.com/p/1",
		OfferText:      "Unboxing video",
		Price:          decimal.RequireFromString("1500"),
		BloggersNeeded: bloggersNeeded,
		Status:         status,
	})
	require.NoError(t, err)
	return o
}

func activation(orderID uuid.UUID) []byte {
	return []byte(`{"event":"order_activated","order_id":"` + orderID.String() + `","status":"active"}`)
}
