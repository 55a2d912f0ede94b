package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/keylock"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

// Status is the answer given to the sender.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Rejection reasons. They are deliberately generic.
const (
	ReasonInvalidSignature = "invalid_signature"
	ReasonMalformed        = "malformed_payload"
)

// Result is the outcome of Handle.
type Result struct {
	Status    Status
	Reason    string
	EventID   string
	Outcome   Outcome
	Duplicate bool
}

// Ledger is the part of subscription.Ledger the processor uses.
type Ledger interface {
	FindByProcessorID(ctx context.Context, processorSubscriptionID string) (*subscription.Subscription, error)
	Apply(ctx context.Context, id uuid.UUID, ev subscription.Event) (subscription.Outcome, error)
}

// Processor runs verified processor events through the subscription ledger.
type Processor struct {
	ledger Ledger
	log    EventLog
	locker keylock.Locker
	now    func() time.Time
	logger *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLocker sets the lock that serializes deliveries of one event id.
func WithLocker(l keylock.Locker) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.locker = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the processor logger.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProcessor creates a processor. Panics if ledger or log is nil.
func NewProcessor(ledger Ledger, log EventLog, opts ...ProcessorOption) *Processor {
	if ledger == nil {
		panic("webhook: ledger is required")
	}
	if log == nil {
		panic("webhook: event log is required")
	}
	p := &Processor{
		ledger: ledger,
		log:    log,
		locker: keylock.NewLocal(),
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle authenticates, deduplicates and applies one delivery from src.
// A non-nil error means the delivery should be retried by the sender.
func (p *Processor) Handle(ctx context.Context, src Source, payload []byte, signature string) (Result, error) {
	ev, err := src.Parse(ctx, payload, signature)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		p.logger.WarnContext(ctx, "webhook signature rejected",
			logger.Source(src.Name()),
			slog.Int("payload_size", len(payload)))
		return Result{Status: StatusRejected, Reason: ReasonInvalidSignature}, nil
	case err != nil:
		p.logger.WarnContext(ctx, "webhook payload rejected",
			logger.Source(src.Name()),
			logger.Error(err))
		return Result{Status: StatusRejected, Reason: ReasonMalformed}, nil
	case ev.ID == "":
		return Result{Status: StatusRejected, Reason: ReasonMalformed}, nil
	}
	if ev.Source == "" {
		ev.Source = src.Name()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now()
	}

	unlock, err := p.locker.Lock(ctx, "webhook:"+ev.Source+":"+ev.ID)
	if err != nil {
		return Result{}, subscription.External("lock webhook event", err)
	}
	defer unlock()

	rec, inserted, err := p.log.Record(ctx, Record{
		EventID:    ev.ID,
		Source:     ev.Source,
		Type:       ev.Type,
		ReceivedAt: p.now().UTC(),
	})
	if err != nil {
		return Result{}, subscription.External("record webhook event", err)
	}
	if !inserted && rec.Processed() {
		p.logger.DebugContext(ctx, "duplicate webhook event",
			logger.EventID(ev.ID),
			logger.Source(ev.Source))
		return Result{Status: StatusAccepted, EventID: ev.ID, Outcome: rec.Outcome, Duplicate: true}, nil
	}

	result, err := p.process(ctx, ev)
	if err != nil {
		return Result{}, err
	}

	now := p.now().UTC()
	result.ProcessedAt = &now
	if err := p.log.MarkProcessed(ctx, ev.Source, ev.ID, result); err != nil {
		return Result{}, subscription.External("mark webhook event processed", err)
	}

	return Result{Status: StatusAccepted, EventID: ev.ID, Outcome: result.Outcome}, nil
}

// process applies ev and returns the record fields to persist. Errors are
// returned only when the event must be redelivered.
func (p *Processor) process(ctx context.Context, ev Event) (Record, error) {
	attrs := []any{
		logger.EventID(ev.ID),
		logger.Source(ev.Source),
		logger.EventType(ev.Type),
	}

	if ev.Action == ActionNone {
		p.logger.DebugContext(ctx, "webhook event not actionable", attrs...)
		return Record{Outcome: OutcomeIgnored}, nil
	}

	sub, err := p.ledger.FindByProcessorID(ctx, ev.ProcessorSubscriptionID)
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		p.logger.InfoContext(ctx, "webhook event for unknown subscription",
			append(attrs, slog.String("processor_subscription_id", ev.ProcessorSubscriptionID))...)
		return Record{Outcome: OutcomeUnknownSubscription}, nil
	case err != nil:
		return Record{}, err
	}

	attrs = append(attrs, logger.SubscriptionID(sub.ID))
	input := ledgerEvent(ev, sub)
	attrs = append(attrs, slog.String("event_kind", string(input.Kind)))

	out, err := p.ledger.Apply(ctx, sub.ID, input)
	switch {
	case err == nil:
	case errors.Is(err, subscription.ErrConflict), errors.Is(err, subscription.ErrValidation):
		p.logger.WarnContext(ctx, "reconciliation anomaly: transition skipped",
			append(attrs,
				logger.Status(sub.Status),
				slog.String("reason", err.Error()))...)
		return Record{Outcome: OutcomeAnomaly, SubscriptionID: &sub.ID, Detail: err.Error()}, nil
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return Record{Outcome: OutcomeUnknownSubscription}, nil
	default:
		return Record{}, fmt.Errorf("apply %s to subscription %s: %w", input.Kind, sub.ID, err)
	}

	if out.Absorbed {
		return Record{Outcome: OutcomeAbsorbed, SubscriptionID: &sub.ID}, nil
	}
	if out.Repeated {
		p.logger.InfoContext(ctx, "webhook event already applied, marking processed", attrs...)
	}
	return Record{Outcome: OutcomeApplied, SubscriptionID: &sub.ID}, nil
}

// ledgerEvent translates ev for sub. A processor-side end of subscription
// completes a pending cancellation; otherwise it is a processor cancellation.
func ledgerEvent(ev Event, sub *subscription.Subscription) subscription.Event {
	in := subscription.Event{
		OccurredAt:         ev.OccurredAt,
		ProcessorEventID:   ev.ID,
		Amount:             ev.Amount,
		ProcessorPaymentID: ev.ProcessorPaymentID,
		DeclineCode:        ev.DeclineCode,
		PeriodEnd:          ev.PeriodEnd,
	}
	switch ev.Action {
	case ActionChargeSucceeded:
		in.Kind = subscription.ChargeSucceeded
	case ActionChargeFailed:
		in.Kind = subscription.ChargeFailed
	case ActionSubscriptionEnded:
		in.Kind = subscription.ProcessorCancelled
		if sub.Status == subscription.StatusPendingCancellation {
			in.Kind = subscription.PeriodEndReached
		}
	}
	return in
}
