package dispatch

import (
	"context"
	"log/slog"

	"github.com/k1networth/ugc-offers/internal/shared/logger"
	"github.com/k1networth/ugc-offers/internal/user"
)

// Sender delivers one offer to one recipient. Errors wrapped with
// retry.Permanent are not retried.
type Sender interface {
	SendOffer(ctx context.Context, to user.User, offer Offer) error
}

// LogSender only logs; it stands in for Telegram when no bot token is set.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = logger.Discard()
	}
	return &LogSender{log: log}
}

func (s *LogSender) SendOffer(_ context.Context, to user.User, offer Offer) error {
	s.log.Info("offer_logged",
		slog.String("order_id", offer.OrderID),
		slog.String("recipient_id", to.ID.String()),
		slog.String("external_id", to.ExternalID),
	)
	return nil
}
