package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/keylock"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/retry"
	"github.com/dmitrymomot/clinicbilling/pkg/statemachine"
	"github.com/dmitrymomot/clinicbilling/pkg/txn"
	"github.com/dmitrymomot/clinicbilling/pkg/validator"
)

// Outcome describes what Apply did.
type Outcome struct {
	Subscription *Subscription
	Previous     Status
	Event        Event
	// Applied is true when the subscription was written.
	Applied bool
	// Absorbed is true when the subscription was already cancelled and the event was ignored.
	Absorbed bool
	// Repeated is true when the event was the last processor event already applied.
	Repeated bool
	// Retry is the retry policy decision for a failed charge.
	Retry *retry.Decision
	// Exhausted is true when the retry policy cancelled the subscription.
	Exhausted bool
	Attempt   *PaymentAttempt
}

// StatusChanged reports whether the event moved the subscription to another status.
func (o Outcome) StatusChanged() bool {
	return o.Applied && o.Subscription != nil && o.Subscription.Status != o.Previous
}

// Listener observes committed outcomes.
type Listener func(ctx context.Context, out Outcome)

// OpenParams describes a new subscription.
type OpenParams struct {
	// ID may be pre-generated by the caller, e.g. to derive processor idempotency keys.
	ID                      uuid.UUID
	CustomerID              string
	CustomerEmail           string
	Terms                   plan.Terms
	DiscountPercentage      int
	CouponID                string
	ProcessorSubscriptionID string
	ProcessorCustomerID     string
}

func (p OpenParams) validate() error {
	return validator.Apply(
		validator.RequiredString("customer_id", p.CustomerID),
		validator.RequiredString("plan_id", p.Terms.PlanID),
		validator.RangeNum("discount_percentage", p.DiscountPercentage, 0, 100),
		validator.MinNum("price_minor_units", p.Terms.PriceMinorUnits, 0),
	)
}

// Ledger owns every state change of every subscription.
type Ledger struct {
	store     Store
	locker    keylock.Locker
	tx        txn.Transactor
	machine   statemachine.Machine[Status, EventKind]
	now       func() time.Time
	logger    *slog.Logger
	listeners []Listener
}

// NewLedger creates a ledger over store. Panics if store is nil.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	if store == nil {
		panic("subscription: store is required")
	}
	l := &Ledger{
		store:   store,
		locker:  keylock.NewLocal(),
		tx:      txn.NewMemory(),
		machine: newTransitionTable(),
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LockKey is the keylock key guarding subscription id.
func LockKey(id uuid.UUID) string {
	return "subscription:" + id.String()
}

// Open creates a subscription in trialing when the terms have a trial, else active.
func (l *Ledger) Open(ctx context.Context, p OpenParams) (*Subscription, error) {
	if err := p.validate(); err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	now := l.now().UTC()
	status := StatusActive
	if p.Terms.HasTrial && p.Terms.TrialDays > 0 {
		status = StatusTrialing
	}

	sub := &Subscription{
		ID:                      p.ID,
		CustomerID:              p.CustomerID,
		CustomerEmail:           p.CustomerEmail,
		PlanID:                  p.Terms.PlanID,
		ProcessorSubscriptionID: p.ProcessorSubscriptionID,
		ProcessorCustomerID:     p.ProcessorCustomerID,
		CouponID:                p.CouponID,
		Status:                  status,
		Terms:                   p.Terms,
		DiscountPercentage:      p.DiscountPercentage,
		CurrentPeriodEnd:        p.Terms.FirstPeriodEnd(now),
		Revision:                1,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		return l.store.Create(ctx, sub)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, External("create subscription", err)
	}

	l.logger.InfoContext(ctx, "subscription opened",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("plan_id", sub.PlanID),
		slog.String("status", string(sub.Status)),
		slog.Time("current_period_end", sub.CurrentPeriodEnd))

	return sub.Clone(), nil
}

// Get returns a subscription by ID.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, storeError("get subscription", err)
	}
	return sub, nil
}

// FindByProcessorID resolves a subscription by the processor's reference.
func (l *Ledger) FindByProcessorID(ctx context.Context, processorSubscriptionID string) (*Subscription, error) {
	sub, err := l.store.GetByProcessorID(ctx, processorSubscriptionID)
	if err != nil {
		return nil, storeError("find subscription", err)
	}
	return sub, nil
}

// Attempts returns the payment history of a subscription, oldest first.
func (l *Ledger) Attempts(ctx context.Context, id uuid.UUID) ([]PaymentAttempt, error) {
	attempts, err := l.store.ListAttempts(ctx, id)
	if err != nil {
		return nil, External("list payment attempts", err)
	}
	return attempts, nil
}

// Due lists subscriptions in status whose deadline has passed at now.
func (l *Ledger) Due(ctx context.Context, status Status, now time.Time, limit int) ([]*Subscription, error) {
	subs, err := l.store.ListDue(ctx, status, now, limit)
	if err != nil {
		return nil, External("list due subscriptions", err)
	}
	return subs, nil
}

// CanApply reports whether kind is accepted in the subscription's current status.
func (l *Ledger) CanApply(ctx context.Context, sub *Subscription, kind EventKind) bool {
	return l.machine.CanFire(ctx, sub.Status, kind, nil)
}

// Apply runs one event against subscription id.
//
// Events for a cancelled subscription are absorbed without writes, and so is a
// redelivery of the last applied processor event. Processor events older than
// the last applied one fail with ErrStaleEvent, and events the current status
// does not accept fail with ErrTransitionNotAllowed.
func (l *Ledger) Apply(ctx context.Context, id uuid.UUID, ev Event) (Outcome, error) {
	if err := ev.validate(); err != nil {
		return Outcome{}, err
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = l.now()
	}
	ev.OccurredAt = ev.OccurredAt.UTC()

	unlock, err := l.locker.Lock(ctx, LockKey(id))
	if err != nil {
		return Outcome{}, External("lock subscription", err)
	}
	defer unlock()

	var out Outcome
	err = l.tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := l.store.Get(ctx, id)
		if err != nil {
			return storeError("load subscription", err)
		}
		out, err = l.transition(ctx, sub, ev)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	unlock()
	l.log(ctx, out)
	for _, fn := range l.listeners {
		fn(ctx, out)
	}
	return out, nil
}

func (l *Ledger) transition(ctx context.Context, sub *Subscription, ev Event) (Outcome, error) {
	out := Outcome{Previous: sub.Status, Event: ev, Subscription: sub}

	if sub.Status.IsTerminal() {
		out.Absorbed = true
		return out, nil
	}

	if ev.FromProcessor() && ev.ProcessorEventID == sub.LastEventID {
		out.Repeated = true
		return out, nil
	}

	next, err := l.fire(ctx, sub, ev, ev.Kind)
	if err != nil {
		return out, err
	}

	expected := sub.Revision
	now := l.now().UTC()
	sub.Status = next

	switch ev.Kind {
	case ChargeSucceeded:
		sub.RetryAttemptsUsed = 0
		sub.NextRetryAt = nil
		if ev.PeriodEnd != nil && ev.PeriodEnd.After(sub.CurrentPeriodEnd) {
			sub.CurrentPeriodEnd = ev.PeriodEnd.UTC()
		} else if ev.PeriodEnd == nil {
			sub.CurrentPeriodEnd = sub.Terms.NextPeriodEnd(sub.CurrentPeriodEnd)
		}
		out.Attempt = l.attempt(sub, ev, AttemptSucceeded)

	case ChargeFailed:
		out.Attempt = l.attempt(sub, ev, AttemptFailed)
		decision := retry.Decide(sub.Terms, sub.RetryAttemptsUsed, now)
		if decision.Retry {
			if decision.Attempt == 1 {
				sub.RetryCycle++
			}
			decision.Cycle = sub.RetryCycle
			sub.RetryAttemptsUsed = decision.Attempt
			sub.NextRetryAt = &decision.At
			out.Retry = &decision
			break
		}
		out.Retry = &decision
		// The policy gave up: past_due -> cancelled in the same write.
		if sub.Status, err = l.fire(ctx, sub, ev, RetryExhausted); err != nil {
			return out, err
		}
		out.Exhausted = true
		sub.NextRetryAt = nil
		sub.CancelledAt = &now

	case RetryExhausted:
		out.Exhausted = true
		sub.NextRetryAt = nil
		sub.CancelledAt = &now

	case UserCancelImmediate, PeriodEndReached:
		sub.NextRetryAt = nil
		sub.CancelledAt = &now

	case ProcessorCancelled:
		sub.NextRetryAt = nil
		cancelledAt := ev.OccurredAt
		sub.CancelledAt = &cancelledAt

	case UserCancelAtPeriodEnd:
		sub.CancelAtPeriodEnd = true

	case PlanChanged:
		sub.Terms = *ev.NewTerms
		sub.PlanID = ev.NewTerms.PlanID
		if ev.PeriodEnd != nil {
			sub.CurrentPeriodEnd = ev.PeriodEnd.UTC()
		}
	}

	if ev.FromProcessor() {
		at := ev.OccurredAt
		sub.LastEventAt = &at
		sub.LastEventID = ev.ProcessorEventID
	}
	sub.Revision = expected + 1
	sub.UpdatedAt = now

	if out.Attempt != nil {
		if err := l.store.AppendAttempt(ctx, *out.Attempt); err != nil {
			return out, External("append payment attempt", err)
		}
	}
	if err := l.store.Update(ctx, sub, expected); err != nil {
		return out, storeError("update subscription", err)
	}

	out.Applied = true
	out.Subscription = sub.Clone()
	return out, nil
}

// fire resolves kind for sub. A guard rejection means ev is older than the
// last applied processor event.
func (l *Ledger) fire(ctx context.Context, sub *Subscription, ev Event, kind EventKind) (Status, error) {
	next, err := l.machine.Fire(ctx, sub.Status, kind, firing{sub: sub, ev: ev})
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, statemachine.ErrRejected):
		return sub.Status, fmt.Errorf("%w: %s at %s precedes last applied event at %s",
			ErrStaleEvent, kind, ev.OccurredAt.Format(time.RFC3339), sub.LastEventAt.Format(time.RFC3339))
	default:
		return sub.Status, fmt.Errorf("%w: %s from %s", ErrTransitionNotAllowed, kind, sub.Status)
	}
}

func (l *Ledger) attempt(sub *Subscription, ev Event, outcome AttemptOutcome) *PaymentAttempt {
	amount := ev.Amount
	if amount == 0 {
		amount = sub.Price()
	}
	return &PaymentAttempt{
		ID:                 uuid.New(),
		SubscriptionID:     sub.ID,
		Amount:             amount,
		Outcome:            outcome,
		OccurredAt:         ev.OccurredAt,
		ProcessorPaymentID: ev.ProcessorPaymentID,
		DeclineCode:        ev.DeclineCode,
	}
}

func (l *Ledger) log(ctx context.Context, out Outcome) {
	attrs := []any{
		slog.String("subscription_id", out.Subscription.ID.String()),
		slog.String("event_kind", string(out.Event.Kind)),
		slog.String("from", string(out.Previous)),
		slog.String("to", string(out.Subscription.Status)),
	}
	if out.Event.ProcessorEventID != "" {
		attrs = append(attrs, slog.String("event_id", out.Event.ProcessorEventID))
	}

	switch {
	case out.Absorbed:
		l.logger.InfoContext(ctx, "event absorbed by cancelled subscription", attrs...)
	case out.Repeated:
		l.logger.InfoContext(ctx, "processor event already applied", attrs...)
	case out.Exhausted:
		l.logger.WarnContext(ctx, "retries exhausted, subscription cancelled",
			append(attrs, slog.Int("retry_attempts_used", out.Subscription.RetryAttemptsUsed))...)
	case out.Retry != nil:
		l.logger.InfoContext(ctx, "charge failed, retry scheduled",
			append(attrs, slog.Int("attempt", out.Retry.Attempt), slog.Time("next_retry_at", out.Retry.At))...)
	default:
		l.logger.InfoContext(ctx, "subscription transition applied", attrs...)
	}
}

// storeError keeps ledger sentinels as they are and classifies anything else as external.
func storeError(op string, err error) error {
	if errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) {
		return err
	}
	return External(op, err)
}
