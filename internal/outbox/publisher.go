package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
	"github.com/k1networth/ugc-offers/internal/shared/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/k1networth/ugc-offers/internal/outbox"

type PublisherConfig struct {
	BatchSize int
	Clock     clockwork.Clock
	Log       *slog.Logger
	Metrics   *Metrics
}

// Publisher appends events in the caller's transaction and later drains
// them to the bus.
type Publisher struct {
	store     Store
	handlers  *HandlerRegistry
	batchSize int
	clock     clockwork.Clock
	log       *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

// NewPublisher wires the order.activated handler; more can be added through
// Handlers().Register.
func NewPublisher(store Store, orders OrderReader, cfg PublisherConfig) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}

	handlers := NewHandlerRegistry()
	_ = handlers.Register(EventTypeOrderActivated, OrderActivatedHandler(orders))

	return &Publisher{
		store:     store,
		handlers:  handlers,
		batchSize: cfg.BatchSize,
		clock:     cfg.Clock,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
		tracer:    otel.Tracer(tracerName),
	}
}

func (p *Publisher) Handlers() *HandlerRegistry { return p.handlers }

func (p *Publisher) Store() Store { return p.store }

// AppendOrderActivated records the activation of o. ctx must carry the
// transaction that changed the order's status.
func (p *Publisher) AppendOrderActivated(ctx context.Context, o model.Order) error {
	payload, err := json.Marshal(OrderActivatedPayload{
		OrderID:        o.ID.String(),
		AdvertiserID:   o.AdvertiserID.String(),
		ProductLink:    o.ProductLink,
		OfferText:      o.OfferText,
		BloggersNeeded: o.BloggersNeeded,
		Price:          json.Number(o.Price.String()),
		CreatedAt:      o.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ev := Event{
		ID:            uuid.New(),
		Type:          EventTypeOrderActivated,
		AggregateID:   o.ID.String(),
		AggregateType: AggregateOrder,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     p.clock.Now().UTC(),
	}
	if err := p.store.Append(ctx, ev); err != nil {
		return err
	}
	p.metrics.appended(ev.Type)
	return nil
}

type DrainResult struct {
	Claimed           int  `json:"claimed"`
	Published         int  `json:"published"`
	Failed            int  `json:"failed"`
	Exhausted         int  `json:"exhausted"`
	StateUpdateFailed int  `json:"state_update_failed"`
	Requeued          int  `json:"requeued"`
	LockBusy          bool `json:"lock_busy,omitempty"`
}

// ProcessPendingEvents runs one drain pass. Only a failed claim is returned
// as an error; per-event problems are recorded on the row and in the result.
func (p *Publisher) ProcessPendingEvents(ctx context.Context, client ActivationClient, maxRetries int) (DrainResult, error) {
	ctx, span := p.tracer.Start(ctx, "outbox.drain")
	defer span.End()

	var res DrainResult
	events, err := p.store.ClaimBatch(ctx, p.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim batch")
		return res, fmt.Errorf("claim batch: %w", err)
	}
	res.Claimed = len(events)
	p.metrics.claimed(len(events))
	span.SetAttributes(attribute.Int("outbox.claimed", len(events)))

	policy := retry.Policy{MaxAttempts: maxRetries}
	for _, ev := range events {
		p.processEvent(ctx, client, policy, ev, &res)
	}

	span.SetAttributes(
		attribute.Int("outbox.published", res.Published),
		attribute.Int("outbox.failed", res.Failed),
		attribute.Int("outbox.exhausted", res.Exhausted),
	)
	return res, nil
}

func (p *Publisher) processEvent(ctx context.Context, client ActivationClient, policy retry.Policy, ev Event, res *DrainResult) {
	ctx, span := p.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.String("outbox.event_id", ev.ID.String()),
		attribute.String("outbox.event_type", ev.Type),
		attribute.Int("outbox.retry_count", ev.RetryCount),
	))
	defer span.End()

	attrs := []any{
		slog.String("event_id", ev.ID.String()),
		slog.String("event_type", ev.Type),
		slog.String("aggregate_id", ev.AggregateID),
		slog.Int("retry_count", ev.RetryCount),
	}

	if policy.Exhausted(ev.RetryCount) {
		msg := fmt.Sprintf("max retries (%d) exceeded", policy.MaxAttempts)
		if err := p.store.MarkExhausted(ctx, ev.ID, msg); err != nil {
			p.stateUpdateFailed(span, res, err, attrs)
			return
		}
		res.Exhausted++
		p.metrics.dead(ev.Type)
		span.SetStatus(codes.Error, msg)
		p.log.Error("outbox_event_exhausted", append(attrs, slog.String("err", msg))...)
		return
	}

	if err := p.handle(ctx, client, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deliver")
		if merr := p.store.MarkFailed(ctx, ev.ID, err.Error(), ev.RetryCount+1); merr != nil {
			p.stateUpdateFailed(span, res, merr, attrs)
			return
		}
		res.Failed++
		p.metrics.failed(ev.Type)
		p.log.Warn("outbox_publish_failed", append(attrs, slog.String("err", err.Error()))...)
		return
	}

	if err := p.store.MarkPublished(ctx, ev.ID, p.clock.Now().UTC()); err != nil {
		p.stateUpdateFailed(span, res, err, attrs)
		return
	}
	res.Published++
	p.metrics.published(ev.Type)
	p.log.Debug("outbox_published", attrs...)
}

// handle turns a handler panic into an ordinary failure of that event so the
// rest of the claimed batch is still attempted.
func (p *Publisher) handle(ctx context.Context, client ActivationClient, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return p.handlers.Handle(ctx, client, ev)
}

func (p *Publisher) stateUpdateFailed(span trace.Span, res *DrainResult, err error, attrs []any) {
	res.StateUpdateFailed++
	p.metrics.markError()
	span.RecordError(err)
	p.log.Error("outbox_mark_failed", append(attrs, slog.String("err", err.Error()))...)
}
