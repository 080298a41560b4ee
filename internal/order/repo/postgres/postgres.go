package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/order/repo"
	"github.com/k1networth/ugc-offers/internal/shared/db"
)

var columns = []string{
	"order_id", "advertiser_id", "product_link", "offer_text", "price",
	"bloggers_needed", "status", "created_at", "updated_at",
}

var (
	psql      = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	returning = strings.Join(columns, ", ")
)

type Repo struct {
	db *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, o model.Order) (model.Order, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = model.StatusNew
	}

	q, args, err := psql.Insert("orders").
		Columns("order_id", "advertiser_id", "product_link", "offer_text", "price", "bloggers_needed", "status").
		Values(o.ID, o.AdvertiserID, o.ProductLink, o.OfferText, o.Price, o.BloggersNeeded, string(o.Status)).
		Suffix("RETURNING " + returning).
		ToSql()
	if err != nil {
		return model.Order{}, fmt.Errorf("build insert: %w", err)
	}
	return scanOrder(db.Conn(ctx, r.db).QueryRowContext(ctx, q, args...))
}

// GetByID locks the row when called inside a transaction.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (model.Order, error) {
	b := psql.Select(columns...).From("orders").Where(sq.Eq{"order_id": id})
	if db.InTx(ctx) {
		b = b.Suffix("FOR UPDATE")
	}
	q, args, err := b.ToSql()
	if err != nil {
		return model.Order{}, fmt.Errorf("build select: %w", err)
	}
	return scanOrder(db.Conn(ctx, r.db).QueryRowContext(ctx, q, args...))
}

func (r *Repo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status) (model.Order, error) {
	q, args, err := psql.Update("orders").
		Set("status", string(status)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"order_id": id}).
		Suffix("RETURNING " + returning).
		ToSql()
	if err != nil {
		return model.Order{}, fmt.Errorf("build update: %w", err)
	}
	return scanOrder(db.Conn(ctx, r.db).QueryRowContext(ctx, q, args...))
}

func scanOrder(row *sql.Row) (model.Order, error) {
	var o model.Order
	var status string
	err := row.Scan(&o.ID, &o.AdvertiserID, &o.ProductLink, &o.OfferText, &o.Price,
		&o.BloggersNeeded, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, repo.ErrNotFound
		}
		return model.Order{}, err
	}
	o.Status = model.Status(status)
	return o, nil
}
