package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

// Breaker guards a Gateway with a circuit breaker. Declines, validation
// errors and caller cancellations do not count as processor failures.
type Breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[any]
}

// BreakerOption configures a Breaker.
type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	name   string
	logger *slog.Logger
}

// WithBreakerName names the breaker in logs.
func WithBreakerName(name string) BreakerOption {
	return func(o *breakerOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithBreakerLogger sets the logger for state changes.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(o *breakerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewBreaker wraps next. Panics if next is nil.
func NewBreaker(next Gateway, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	if next == nil {
		panic("gateway: next gateway is required")
	}
	o := breakerOptions{name: "payment-processor", logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        o.name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("payment processor circuit state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, subscription.ErrValidation) ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &Breaker{next: next, cb: cb}
}

// State reports the breaker state: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) CreateSubscription(ctx context.Context, req CreateRequest) (CreateResult, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.CreateSubscription(ctx, req)
	})
	if err != nil {
		return CreateResult{}, breakerError("create subscription", err)
	}
	return res.(CreateResult), nil
}

func (b *Breaker) CancelSubscription(ctx context.Context, processorSubscriptionID string, immediately bool) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.CancelSubscription(ctx, processorSubscriptionID, immediately)
	})
	return breakerError("cancel subscription", err)
}

func (b *Breaker) ChangePlan(ctx context.Context, req ChangePlanRequest) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.ChangePlan(ctx, req)
	})
	return breakerError("change plan", err)
}

func (b *Breaker) RetryPayment(ctx context.Context, processorPaymentID string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.RetryPayment(ctx, processorPaymentID)
	})
	return breakerError("retry payment", err)
}

func breakerError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return subscription.External(op, errors.Join(ErrCircuitOpen, err))
	}
	return err
}
