// Package dispatch consumes order activations and fans the offer out to
// eligible recipients.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/order/repo"
	"github.com/k1networth/ugc-offers/internal/shared/events"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
	"github.com/k1networth/ugc-offers/internal/shared/retry"
	"github.com/k1networth/ugc-offers/internal/user"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/k1networth/ugc-offers/internal/dispatch"

// candidatesPerSlot bounds the fan-out to a multiple of bloggers_needed.
const candidatesPerSlot = 3

type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Order, error)
}

type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	ListConfirmedRecipients(ctx context.Context, role user.Role) ([]user.User, error)
}

type Config struct {
	// Retry governs each recipient independently.
	Retry   retry.Policy
	Clock   clockwork.Clock
	Log     *slog.Logger
	Metrics *Metrics
}

type Dispatcher struct {
	orders  OrderReader
	users   Directory
	sender  Sender
	dlq     DeadLetterPublisher
	sent    DispatchLog
	retry   retry.Policy
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

func NewDispatcher(orders OrderReader, users Directory, sender Sender, dlq DeadLetterPublisher, sent DispatchLog, cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if dlq == nil {
		dlq = NoopDeadLetter{}
	}
	if sent == nil {
		sent = NewMemoryLog()
	}
	return &Dispatcher{
		orders:  orders,
		users:   users,
		sender:  sender,
		dlq:     dlq,
		sent:    sent,
		retry:   cfg.Retry,
		clock:   cfg.Clock,
		log:     cfg.Log,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Result summarizes one fan-out.
type Result struct {
	Candidates   int
	Sent         int
	AlreadySent  int
	Skipped      int
	DeadLettered int
}

// Handle processes one raw bus message. Malformed or foreign messages are
// dropped and return nil; a returned error means the message should be
// redelivered.
func (d *Dispatcher) Handle(ctx context.Context, value []byte) error {
	orderID, ok := parseActivation(value)
	if !ok {
		d.metrics.message("discarded")
		d.log.Debug("message_discarded", slog.Int("bytes", len(value)))
		return nil
	}

	res, err := d.Dispatch(ctx, orderID)
	if err != nil {
		d.metrics.message("error")
		return err
	}
	d.metrics.message("handled")
	if res.Candidates > 0 {
		d.log.Info("offer_dispatched",
			slog.String("order_id", orderID.String()),
			slog.Int("candidates", res.Candidates),
			slog.Int("sent", res.Sent),
			slog.Int("already_sent", res.AlreadySent),
			slog.Int("skipped", res.Skipped),
			slog.Int("dead_lettered", res.DeadLettered),
		)
	}
	return nil
}

func parseActivation(value []byte) (uuid.UUID, bool) {
	var msg struct {
		Event   string `json:"event"`
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(value, &msg); err != nil {
		return uuid.Nil, false
	}
	if msg.Event != events.OrderActivatedEvent || msg.OrderID == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(msg.OrderID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Dispatch sends the offer for orderID to every eligible recipient that has
// not received it yet. Recipients are served one at a time.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID uuid.UUID) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.order", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
	))
	defer span.End()

	var res Result
	attrs := []any{slog.String("order_id", orderID.String())}

	o, err := d.orders.GetByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		d.log.Warn("order_not_found", attrs...)
		return res, nil
	}
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("load order: %w", err)
	}
	if o.Status != model.StatusActive {
		d.log.Info("order_not_active", append(attrs, slog.String("status", string(o.Status)))...)
		return res, nil
	}

	advertiser, err := d.users.GetByID(ctx, o.AdvertiserID)
	if errors.Is(err, user.ErrNotFound) {
		d.log.Warn("advertiser_not_found", append(attrs, slog.String("advertiser_id", o.AdvertiserID.String()))...)
		return res, nil
	}
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("load advertiser: %w", err)
	}

	recipients, err := d.recipients(ctx, o)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Candidates = len(recipients)
	span.SetAttributes(attribute.Int("dispatch.candidates", len(recipients)))
	if len(recipients) == 0 {
		d.log.Info("no_recipients", attrs...)
		return res, nil
	}

	ids := make([]uuid.UUID, len(recipients))
	for i, u := range recipients {
		ids[i] = u.ID
	}
	seen, err := d.sent.Seen(ctx, o.ID, ids)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("read dispatch log: %w", err)
	}

	offer := NewOffer(o, string(advertiser.Status))
	for _, u := range recipients {
		// Stop between recipients on shutdown; the message stays uncommitted.
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch {
		case seen[u.ID]:
			res.AlreadySent++
			d.metrics.offer("already_sent")
		case !validAddress(u.ExternalID):
			res.Skipped++
			d.metrics.offer("skipped")
			d.log.Warn("recipient_bad_address", append(attrs, slog.String("recipient_id", u.ID.String()))...)
		default:
			if d.deliver(ctx, o, u, offer) {
				res.Sent++
			} else if ctx.Err() == nil {
				res.DeadLettered++
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	span.SetAttributes(
		attribute.Int("dispatch.sent", res.Sent),
		attribute.Int("dispatch.dead_lettered", res.DeadLettered),
	)
	return res, nil
}

// recipients returns confirmed, active bloggers other than the advertiser,
// capped at candidatesPerSlot * bloggers_needed.
func (d *Dispatcher) recipients(ctx context.Context, o model.Order) ([]user.User, error) {
	all, err := d.users.ListConfirmedRecipients(ctx, user.RoleBlogger)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	limit := max(1, min(len(all), o.BloggersNeeded*candidatesPerSlot))

	out := make([]user.User, 0, limit)
	for _, u := range all[:limit] {
		if u.ID == o.AdvertiserID || !u.HasRole(user.RoleBlogger) || !u.Active() {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// deliver retries one recipient and dead-letters it on failure.
func (d *Dispatcher) deliver(ctx context.Context, o model.Order, u user.User, offer Offer) bool {
	ctx, span := d.tracer.Start(ctx, "dispatch.send", trace.WithAttributes(
		attribute.String("recipient.id", u.ID.String()),
	))
	defer span.End()

	attempts, err := d.retry.Do(ctx, d.clock, func(ctx context.Context, attempt int) error {
		err := d.sender.SendOffer(ctx, u, offer)
		if err != nil {
			d.log.Warn("offer_send_failed",
				slog.String("order_id", o.ID.String()),
				slog.String("recipient_id", u.ID.String()),
				slog.Int("attempt", attempt),
				slog.String("err", err.Error()),
			)
		}
		return err
	})
	d.metrics.attempts(attempts)

	if err != nil && ctx.Err() != nil {
		return false
	}
	if err != nil {
		span.RecordError(err)
		d.metrics.offer("dead_lettered")
		d.dlq.Publish(ctx, events.OfferSendFailed{
			Event:           events.OfferSendFailedEvent,
			OrderID:         o.ID.String(),
			RecipientID:     u.ID.String(),
			ExternalAddress: u.ExternalID,
			Error:           err.Error(),
		})
		return false
	}

	d.metrics.offer("sent")
	if rerr := d.sent.Record(ctx, o.ID, u.ID); rerr != nil {
		// The offer is out; a lost record only risks a repeat on redelivery.
		d.log.Error("dispatch_record_failed",
			slog.String("order_id", o.ID.String()),
			slog.String("recipient_id", u.ID.String()),
			slog.String("err", rerr.Error()),
		)
	}
	return true
}

func validAddress(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
