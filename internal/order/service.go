package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/order/repo"
	"github.com/k1networth/ugc-offers/internal/shared/db"
)

var (
	ErrAlreadyActive  = errors.New("order is already active")
	ErrNotActivatable = errors.New("order cannot be activated from its current status")
)

// Announcer records that an order became active. It must join the
// transaction carried by ctx.
type Announcer interface {
	AppendOrderActivated(ctx context.Context, o model.Order) error
}

type Service struct {
	tx     db.TxManager
	orders repo.Repository
	outbox Announcer
}

func NewService(tx db.TxManager, orders repo.Repository, outbox Announcer) *Service {
	return &Service{tx: tx, orders: orders, outbox: outbox}
}

func (s *Service) Create(ctx context.Context, req model.CreateOrderRequest) (model.Order, error) {
	if err := req.Validate(); err != nil {
		return model.Order{}, err
	}
	advertiser, _ := uuid.Parse(strings.TrimSpace(req.AdvertiserID))
	return s.orders.Create(ctx, model.Order{
		AdvertiserID:   advertiser,
		ProductLink:    strings.TrimSpace(req.ProductLink),
		OfferText:      strings.TrimSpace(req.OfferText),
		Price:          req.Price,
		BloggersNeeded: req.BloggersNeeded,
		Status:         model.StatusNew,
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// Activate moves the order to active and appends its outbox event in one
// transaction; either both are committed or neither is.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (model.Order, error) {
	var out model.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == model.StatusActive {
			return ErrAlreadyActive
		}
		if !o.Status.Activatable() {
			return fmt.Errorf("%w: %s", ErrNotActivatable, o.Status)
		}

		o, err = s.orders.UpdateStatus(ctx, id, model.StatusActive)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if err := s.outbox.AppendOrderActivated(ctx, o); err != nil {
			return fmt.Errorf("append outbox event: %w", err)
		}
		out = o
		return nil
	})
	return out, err
}
