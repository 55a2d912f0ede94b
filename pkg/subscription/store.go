package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions and their payment history. Implementations
// join the unit of work carried by ctx.
type Store interface {
	// Create inserts a new subscription. Returns ErrSubscriptionExists for a duplicate ID.
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetByProcessorID(ctx context.Context, processorSubscriptionID string) (*Subscription, error)
	// Update writes sub only if the stored revision equals expectedRevision,
	// otherwise it returns ErrRevisionMismatch.
	Update(ctx context.Context, sub *Subscription, expectedRevision int64) error
	// ListDue returns subscriptions in status whose next deadline is at or
	// before before: the retry time for past_due, the period end otherwise.
	ListDue(ctx context.Context, status Status, before time.Time, limit int) ([]*Subscription, error)

	AppendAttempt(ctx context.Context, attempt PaymentAttempt) error
	ListAttempts(ctx context.Context, subscriptionID uuid.UUID) ([]PaymentAttempt, error)
}

// Deadline is the time ListDue compares for sub.
func Deadline(sub *Subscription) *time.Time {
	if sub.Status == StatusPastDue {
		return sub.NextRetryAt
	}
	return &sub.CurrentPeriodEnd
}
