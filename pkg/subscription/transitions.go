package subscription

import (
	"context"

	"github.com/dmitrymomot/clinicbilling/pkg/statemachine"
)

var nonTerminal = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusPendingCancellation}

// firing is the guard data the ledger passes to Fire.
type firing struct {
	sub *Subscription
	ev  Event
}

// fresh rejects processor events older than the last one applied.
func fresh(_ context.Context, _ Status, _ EventKind, data any) bool {
	f, ok := data.(firing)
	if !ok || !f.ev.FromProcessor() || f.sub.LastEventAt == nil {
		return true
	}
	return !f.ev.OccurredAt.Before(*f.sub.LastEventAt)
}

// newTransitionTable builds the allowed moves. Side effects live in the ledger.
func newTransitionTable() *statemachine.Table[Status, EventKind] {
	guarded := statemachine.WithGuard[Status, EventKind](fresh)
	return statemachine.MustNew(
		statemachine.WithTransitionFrom([]Status{StatusTrialing, StatusActive, StatusPastDue}, StatusActive, ChargeSucceeded, guarded),
		statemachine.WithTransitionFrom([]Status{StatusTrialing, StatusActive, StatusPastDue}, StatusPastDue, ChargeFailed, guarded),
		statemachine.WithTransitionFrom(nonTerminal, StatusCancelled, UserCancelImmediate),
		statemachine.WithTransitionFrom(nonTerminal, StatusPendingCancellation, UserCancelAtPeriodEnd),
		statemachine.WithTransition(StatusPendingCancellation, StatusCancelled, PeriodEndReached, guarded),
		statemachine.WithTransition(StatusPastDue, StatusCancelled, RetryExhausted, guarded),
		statemachine.WithTransition(StatusActive, StatusActive, PlanChanged),
		statemachine.WithTransition(StatusTrialing, StatusTrialing, PlanChanged),
		statemachine.WithTransitionFrom(nonTerminal, StatusCancelled, ProcessorCancelled, guarded),
	)
}
