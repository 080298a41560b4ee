package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderActivated = "order.activated"
	AggregateOrder          = "order"
)

type Event struct {
	ID            uuid.UUID       `json:"event_id"`
	Type          string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	RetryCount    int             `json:"retry_count"`
	LastError     string          `json:"last_error,omitempty"`
	// Exhausted marks a FAILED row that hit the retry cutoff; it is never claimed again.
	Exhausted bool `json:"exhausted"`
}

// OrderActivatedPayload is stored with every order.activated event.
type OrderActivatedPayload struct {
	OrderID        string      `json:"order_id"`
	AdvertiserID   string      `json:"advertiser_id"`
	ProductLink    string      `json:"product_link"`
	OfferText      string      `json:"offer_text"`
	BloggersNeeded int         `json:"bloggers_needed"`
	Price          json.Number `json:"price"`
	CreatedAt      string      `json:"created_at"`
}
