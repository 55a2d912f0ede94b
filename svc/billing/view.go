package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

// View is the public representation of a subscription.
type View struct {
	ID                 uuid.UUID           `json:"id"`
	CustomerID         string              `json:"customer_id"`
	PlanID             string              `json:"plan_id"`
	Status             subscription.Status `json:"status"`
	PriceMinorUnits    int64               `json:"price_minor_units"`
	Currency           string              `json:"currency"`
	DiscountPercentage int                 `json:"discount_percentage,omitempty"`
	CurrentPeriodEnd   time.Time           `json:"current_period_end"`
	CancelAtPeriodEnd  bool                `json:"cancel_at_period_end"`
	TrialDaysRemaining int                 `json:"trial_days_remaining,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty"`
	Retry              *RetryView          `json:"retry,omitempty"`
}

// RetryView exposes the retry cycle of a subscription.
type RetryView struct {
	Enabled      bool                          `json:"enabled"`
	AttemptsUsed int                           `json:"attempts_used"`
	MaxAttempts  int                           `json:"max_attempts"`
	NextRetryAt  *time.Time                    `json:"next_retry_at,omitempty"`
	Attempts     []subscription.PaymentAttempt `json:"attempts"`
}

// NewView builds the view of sub at now, without retry details.
func NewView(sub *subscription.Subscription, now time.Time) View {
	return View{
		ID:                 sub.ID,
		CustomerID:         sub.CustomerID,
		PlanID:             sub.PlanID,
		Status:             sub.Status,
		PriceMinorUnits:    sub.Price(),
		Currency:           sub.Terms.Currency,
		DiscountPercentage: sub.DiscountPercentage,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		TrialDaysRemaining: sub.TrialDaysRemainingAt(now),
		CreatedAt:          sub.CreatedAt,
		CancelledAt:        sub.CancelledAt,
	}
}
