package subscription

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/clinicbilling/pkg/plan"
)

// EventKind is a ledger input.
type EventKind string

const (
	ChargeSucceeded       EventKind = "charge_succeeded"
	ChargeFailed          EventKind = "charge_failed"
	UserCancelImmediate   EventKind = "user_cancel_immediate"
	UserCancelAtPeriodEnd EventKind = "user_cancel_at_period_end"
	// PeriodEndReached ends a subscription that is pending cancellation.
	PeriodEndReached EventKind = "period_end_reached"
	RetryExhausted   EventKind = "retry_exhausted"
	PlanChanged      EventKind = "plan_changed"
	// ProcessorCancelled mirrors a cancellation made directly at the processor.
	ProcessorCancelled EventKind = "processor_cancelled"
)

// Event is an input to Ledger.Apply.
type Event struct {
	Kind EventKind `json:"kind"`
	// OccurredAt is when the event happened. Zero means now.
	OccurredAt time.Time `json:"occurred_at"`
	// ProcessorEventID is set for events delivered by the payment processor.
	// Only those are checked for staleness.
	ProcessorEventID string `json:"processor_event_id,omitempty"`

	// Charge events.
	Amount             int64      `json:"amount,omitempty"`
	ProcessorPaymentID string     `json:"processor_payment_id,omitempty"`
	DeclineCode        string     `json:"decline_code,omitempty"`
	PeriodEnd          *time.Time `json:"period_end,omitempty"`

	// PlanChanged.
	NewTerms *plan.Terms `json:"new_terms,omitempty"`
}

// FromProcessor reports whether the event was delivered by the payment processor.
func (e Event) FromProcessor() bool {
	return e.ProcessorEventID != ""
}

func (e Event) validate() error {
	switch e.Kind {
	case ChargeSucceeded, ChargeFailed, UserCancelImmediate, UserCancelAtPeriodEnd,
		PeriodEndReached, RetryExhausted, ProcessorCancelled:
	case PlanChanged:
		if e.NewTerms == nil || e.NewTerms.PlanID == "" {
			return fmt.Errorf("%w: plan change without new terms", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.Amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidEvent)
	}
	return nil
}
