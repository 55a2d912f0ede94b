package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

var (
	ErrPaymentDeclined = errors.New("gateway: payment declined")
	ErrCircuitOpen     = errors.New("gateway: payment processor unavailable")
	ErrNotFound        = errors.New("gateway: processor object not found")
	ErrInvalidConfig   = errors.New("gateway: invalid configuration")
)

// Gateway is the outbound side of the payment processor.
type Gateway interface {
	// CreateSubscription creates the processor customer and subscription.
	// Repeated calls with the same SubscriptionID must not create duplicates.
	CreateSubscription(ctx context.Context, req CreateRequest) (CreateResult, error)
	// CancelSubscription cancels now or at the end of the current period.
	CancelSubscription(ctx context.Context, processorSubscriptionID string, immediately bool) error
	// ChangePlan moves the subscription to new terms with proration.
	ChangePlan(ctx context.Context, req ChangePlanRequest) error
	// RetryPayment re-attempts payment of a failed invoice.
	RetryPayment(ctx context.Context, processorPaymentID string) error
}

// CreateRequest describes a new processor subscription.
type CreateRequest struct {
	SubscriptionID     uuid.UUID // local id, also the idempotency key
	CustomerID         string
	CustomerEmail      string
	PaymentMethodToken string
	PlanName           string
	ProcessorPriceID   string // used as is when there is no discount
	Terms              plan.Terms
	DiscountPercentage int
	CouponCode         string
	StartAt            time.Time
}

// CreateResult holds processor identifiers of a created subscription.
type CreateResult struct {
	ProcessorSubscriptionID string
	ProcessorCustomerID     string
	Status                  string
}

// ChangePlanRequest describes a price change of an existing subscription.
type ChangePlanRequest struct {
	SubscriptionID          uuid.UUID
	ProcessorSubscriptionID string
	PlanName                string
	ProcessorPriceID        string
	Terms                   plan.Terms
	DiscountPercentage      int
}

// DeclineError is a card decline reported by the processor. It matches
// ErrPaymentDeclined and subscription.ErrValidation.
type DeclineError struct {
	Code string
}

// Declined builds the error returned for a card decline.
func Declined(code string) error {
	return &DeclineError{Code: code}
}

func (e *DeclineError) Error() string {
	if e.Code == "" {
		return ErrPaymentDeclined.Error()
	}
	return ErrPaymentDeclined.Error() + ": " + e.Code
}

// Message is the customer-facing explanation of the decline.
func (e *DeclineError) Message() string {
	return DeclineMessage(e.Code)
}

func (e *DeclineError) Is(target error) bool {
	return target == ErrPaymentDeclined || target == subscription.ErrValidation
}

// DeclineCode extracts the decline code from err, or "" if err is not a decline.
func DeclineCode(err error) string {
	var d *DeclineError
	if errors.As(err, &d) {
		return d.Code
	}
	return ""
}
