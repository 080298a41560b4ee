package events

const (
	// OrderActivatedEvent is the event name carried on the activation topic.
	OrderActivatedEvent = "order_activated"
	// OfferSendFailedEvent is the event name carried on the dead-letter topic.
	OfferSendFailedEvent = "offer_send_failed"
)

// OrderActivated is the flat activation record published to the bus.
// Consumers route on Event and OrderID only and reload everything else.
type OrderActivated struct {
	Event          string  `json:"event"`
	OrderID        string  `json:"order_id"`
	AdvertiserID   string  `json:"advertiser_id"`
	ProductLink    string  `json:"product_link"`
	Price          float64 `json:"price"`
	BloggersNeeded int     `json:"bloggers_needed"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
}

// OfferSendFailed describes a recipient whose offer delivery exhausted retries.
type OfferSendFailed struct {
	Event           string `json:"event"`
	OrderID         string `json:"order_id"`
	RecipientID     string `json:"recipient_id"`
	ExternalAddress string `json:"external_address"`
	Error           string `json:"error"`
}
