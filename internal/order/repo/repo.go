package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/order/model"
)

var ErrNotFound = errors.New("order not found")

type Repository interface {
	Create(ctx context.Context, o model.Order) (model.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) (model.Order, error)
}
