package subscription

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/plan"
)

// Status is the single source of truth for a subscription's lifecycle.
type Status string

const (
	StatusTrialing            Status = "trialing"
	StatusActive              Status = "active"
	StatusPastDue             Status = "past_due"
	StatusPendingCancellation Status = "pending_cancellation"
	StatusCancelled           Status = "cancelled"
)

var statuses = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusPendingCancellation, StatusCancelled}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(statuses, s)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled
}

// Subscription is a customer's billing relationship with the clinic.
//
// RetryCycle counts failure cycles and grows each time a failed charge
// schedules retry attempt 1. LastEventID is the processor event that set
// LastEventAt.
type Subscription struct {
	ID                      uuid.UUID  `json:"id"`
	CustomerID              string     `json:"customer_id"`
	CustomerEmail           string     `json:"customer_email,omitempty"`
	PlanID                  string     `json:"plan_id"`
	ProcessorSubscriptionID string     `json:"processor_subscription_id,omitempty"`
	ProcessorCustomerID     string     `json:"processor_customer_id,omitempty"`
	CouponID                string     `json:"coupon_id,omitempty"`
	Status                  Status     `json:"status"`
	Terms                   plan.Terms `json:"terms"`
	DiscountPercentage      int        `json:"discount_percentage"`
	CurrentPeriodEnd        time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd       bool       `json:"cancel_at_period_end"`
	RetryAttemptsUsed       int        `json:"retry_attempts_used"`
	RetryCycle              int        `json:"retry_cycle"`
	NextRetryAt             *time.Time `json:"next_retry_at,omitempty"`
	Revision                int64      `json:"revision"`
	LastEventAt             *time.Time `json:"last_event_at,omitempty"`
	LastEventID             string     `json:"last_event_id,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	CancelledAt             *time.Time `json:"cancelled_at,omitempty"`
}

// IsTrialing returns true if the subscription is in trial status.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// IsCancelled returns true if the subscription is cancelled.
func (s *Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// Price is the recurring amount after the captured discount.
func (s *Subscription) Price() int64 {
	return s.Terms.DiscountedPrice(s.DiscountPercentage)
}

// TrialDaysRemainingAt returns the number of whole or partial trial days left at now.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.IsTrialing() {
		return 0
	}
	remaining := s.CurrentPeriodEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := remaining.Hours() / 24
	return int(days + 0.5)
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.Terms.BillingDay = clonePtr(s.Terms.BillingDay)
	c.NextRetryAt = clonePtr(s.NextRetryAt)
	c.LastEventAt = clonePtr(s.LastEventAt)
	c.CancelledAt = clonePtr(s.CancelledAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// AttemptOutcome is the result of a charge.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptFailed    AttemptOutcome = "failed"
)

// PaymentAttempt is an append-only record of one charge.
type PaymentAttempt struct {
	ID                 uuid.UUID      `json:"id"`
	SubscriptionID     uuid.UUID      `json:"subscription_id"`
	Amount             int64          `json:"amount"`
	Outcome            AttemptOutcome `json:"outcome"`
	OccurredAt         time.Time      `json:"occurred_at"`
	ProcessorPaymentID string         `json:"processor_payment_id,omitempty"`
	DeclineCode        string         `json:"decline_code,omitempty"`
}
