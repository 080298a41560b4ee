package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNew               Status = "new"
	StatusPendingModeration Status = "pending_moderation"
	StatusActive            Status = "active"
	StatusClosed            Status = "closed"
)

// Activatable reports whether an order in this status may become active.
func (s Status) Activatable() bool {
	return s == StatusNew || s == StatusPendingModeration
}

type Order struct {
	ID             uuid.UUID       `json:"order_id"`
	AdvertiserID   uuid.UUID       `json:"advertiser_id"`
	ProductLink    string          `json:"product_link"`
	OfferText      string          `json:"offer_text"`
	Price          decimal.Decimal `json:"price"`
	BloggersNeeded int             `json:"bloggers_needed"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ValidationError string

func (e ValidationError) Error() string { return string(e) }

type CreateOrderRequest struct {
	AdvertiserID   string          `json:"advertiser_id"`
	ProductLink    string          `json:"product_link"`
	OfferText      string          `json:"offer_text"`
	Price          decimal.Decimal `json:"price"`
	BloggersNeeded int             `json:"bloggers_needed"`
}

func (r CreateOrderRequest) Validate() error {
	if _, err := uuid.Parse(strings.TrimSpace(r.AdvertiserID)); err != nil {
		return ValidationError("advertiser_id must be a uuid")
	}

	link := strings.TrimSpace(r.ProductLink)
	if link == "" {
		return ValidationError("product_link is required")
	}
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return ValidationError("product_link must be an http(s) url")
	}

	text := strings.TrimSpace(r.OfferText)
	if text == "" {
		return ValidationError("offer_text is required")
	}
	if len(text) > 4000 {
		return ValidationError("offer_text must be at most 4000 characters")
	}

	if !r.Price.IsPositive() {
		return ValidationError("price must be positive")
	}
	if r.BloggersNeeded < 1 || r.BloggersNeeded > 1000 {
		return ValidationError("bloggers_needed must be between 1 and 1000")
	}
	return nil
}
