package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/coupon"
	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/retry"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
	"github.com/dmitrymomot/clinicbilling/pkg/txn"
	"github.com/dmitrymomot/clinicbilling/pkg/validator"
)

// RetryScheduler enqueues charge retries.
type RetryScheduler interface {
	Schedule(ctx context.Context, subscriptionID uuid.UUID, d retry.Decision) error
}

// CreateParams is the input of Create.
type CreateParams struct {
	CustomerID         string `json:"customer_id"`
	CustomerEmail      string `json:"customer_email"`
	PlanID             string `json:"plan_id"`
	CouponCode         string `json:"coupon_code"`
	PaymentMethodToken string `json:"payment_method_token"`
}

// Validate checks the request fields.
func (p CreateParams) Validate() error {
	return validator.Apply(
		validator.RequiredString("customer_id", p.CustomerID),
		validator.MaxLenString("customer_id", p.CustomerID, 255),
		validator.RequiredString("plan_id", p.PlanID),
		validator.RequiredString("payment_method_token", p.PaymentMethodToken),
		validator.If(p.CustomerEmail != "", validator.ValidEmail("customer_email", p.CustomerEmail)),
		validator.MaxLenString("coupon_code", p.CouponCode, 64),
	)
}

// Service runs the billing use cases.
type Service struct {
	plans   plan.Store
	coupons *coupon.Engine
	ledger  *subscription.Ledger
	gateway gateway.Gateway
	retries RetryScheduler
	tx      txn.Transactor

	sweepBatch          int
	compensationTimeout time.Duration
	now                 func() time.Time
	logger              *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTransactor sets the unit of work wrapping subscription creation.
// It must be the same transactor the stores and the ledger join.
func WithTransactor(tx txn.Transactor) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// WithRetryScheduler lets Sweep re-enqueue overdue retries.
func WithRetryScheduler(r RetryScheduler) Option {
	return func(s *Service) {
		s.retries = r
	}
}

// WithSweepBatch caps the subscriptions handled per status in one sweep.
func WithSweepBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// WithCompensationTimeout bounds the processor cancel issued after a failed create.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates the billing service. Panics if a dependency is nil.
func NewService(plans plan.Store, coupons *coupon.Engine, ledger *subscription.Ledger, gw gateway.Gateway, opts ...Option) *Service {
	if plans == nil {
		panic("billing: plan store is required")
	}
	if coupons == nil {
		panic("billing: coupon engine is required")
	}
	if ledger == nil {
		panic("billing: ledger is required")
	}
	if gw == nil {
		panic("billing: gateway is required")
	}

	s := &Service{
		plans:               plans,
		coupons:             coupons,
		ledger:              ledger,
		gateway:             gw,
		tx:                  txn.NewMemory(),
		sweepBatch:          100,
		compensationTimeout: 10 * time.Second,
		now:                 time.Now,
		logger:              slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a subscription. Coupon redemption, the processor subscription
// and the ledger record succeed or fail together.
func (s *Service) Create(ctx context.Context, p CreateParams) (*subscription.Subscription, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Join(subscription.ErrValidation, err)
	}

	id := uuid.New()
	var (
		sub         *subscription.Subscription
		processorID string
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		pl, err := s.activePlan(ctx, p.PlanID)
		if err != nil {
			return err
		}

		var redemption coupon.Redemption
		if p.CouponCode != "" {
			if redemption, err = s.coupons.Redeem(ctx, p.CouponCode); err != nil {
				return err
			}
		}

		terms := pl.Terms()
		res, err := s.gateway.CreateSubscription(ctx, gateway.CreateRequest{
			SubscriptionID:     id,
			CustomerID:         p.CustomerID,
			CustomerEmail:      p.CustomerEmail,
			PaymentMethodToken: p.PaymentMethodToken,
			PlanName:           pl.Name,
			ProcessorPriceID:   pl.ProcessorPriceID,
			Terms:              terms,
			DiscountPercentage: redemption.DiscountPercentage,
			CouponCode:         redemption.Code,
			StartAt:            s.now().UTC(),
		})
		if err != nil {
			return processorError("create subscription", err)
		}
		processorID = res.ProcessorSubscriptionID

		sub, err = s.ledger.Open(ctx, subscription.OpenParams{
			ID:                      id,
			CustomerID:              p.CustomerID,
			CustomerEmail:           p.CustomerEmail,
			Terms:                   terms,
			DiscountPercentage:      redemption.DiscountPercentage,
			CouponID:                redemption.CouponID,
			ProcessorSubscriptionID: res.ProcessorSubscriptionID,
			ProcessorCustomerID:     res.ProcessorCustomerID,
		})
		return err
	})
	if err != nil {
		if processorID != "" {
			s.compensate(ctx, id, processorID, err)
		}
		s.logger.InfoContext(ctx, "subscription not created",
			logger.CustomerID(p.CustomerID),
			logger.PlanID(p.PlanID),
			logger.Error(err))
		return nil, err
	}

	return sub, nil
}

// compensate cancels a processor subscription whose local record was not committed.
func (s *Service) compensate(ctx context.Context, id uuid.UUID, processorID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	if err := s.gateway.CancelSubscription(ctx, processorID, true); err != nil {
		s.logger.ErrorContext(ctx, "compensating processor cancel failed",
			logger.SubscriptionID(id),
			slog.String("processor_subscription_id", processorID),
			slog.String("cause", cause.Error()),
			logger.Error(err))
		return
	}
	s.logger.WarnContext(ctx, "processor subscription cancelled after failed create",
		logger.SubscriptionID(id),
		slog.String("processor_subscription_id", processorID),
		slog.String("cause", cause.Error()))
}

// Cancel ends a subscription now or at the end of the paid period.
// Cancelling a cancelled subscription returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, immediately bool) (*subscription.Subscription, error) {
	sub, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.IsCancelled() {
		return sub, nil
	}

	kind := subscription.UserCancelAtPeriodEnd
	if immediately {
		kind = subscription.UserCancelImmediate
	}
	if !s.ledger.CanApply(ctx, sub, kind) {
		return nil, fmt.Errorf("%w: %s from %s", subscription.ErrTransitionNotAllowed, kind, sub.Status)
	}

	if sub.ProcessorSubscriptionID != "" {
		err := s.gateway.CancelSubscription(ctx, sub.ProcessorSubscriptionID, immediately)
		if err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return nil, processorError("cancel subscription", err)
		}
	}

	out, err := s.ledger.Apply(ctx, id, subscription.Event{Kind: kind})
	if err != nil {
		s.logger.ErrorContext(ctx, "processor cancelled but ledger write failed",
			logger.SubscriptionID(id),
			slog.String("event_kind", string(kind)),
			logger.Error(err))
		return nil, err
	}
	return out.Subscription, nil
}

// ChangePlan moves an active or trialing subscription to another active plan.
// The captured discount carries over.
func (s *Service) ChangePlan(ctx context.Context, id uuid.UUID, newPlanID string) (*subscription.Subscription, error) {
	if err := validator.Apply(validator.RequiredString("new_plan_id", newPlanID)); err != nil {
		return nil, errors.Join(subscription.ErrValidation, err)
	}

	sub, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == newPlanID {
		return nil, ErrSamePlan
	}
	if !s.ledger.CanApply(ctx, sub, subscription.PlanChanged) {
		return nil, fmt.Errorf("%w: %s from %s", subscription.ErrTransitionNotAllowed, subscription.PlanChanged, sub.Status)
	}

	pl, err := s.activePlan(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	terms := pl.Terms()

	if sub.ProcessorSubscriptionID != "" {
		err := s.gateway.ChangePlan(ctx, gateway.ChangePlanRequest{
			SubscriptionID:          sub.ID,
			ProcessorSubscriptionID: sub.ProcessorSubscriptionID,
			PlanName:                pl.Name,
			ProcessorPriceID:        pl.ProcessorPriceID,
			Terms:                   terms,
			DiscountPercentage:      sub.DiscountPercentage,
		})
		if err != nil {
			return nil, processorError("change plan", err)
		}
	}

	out, err := s.ledger.Apply(ctx, id, subscription.Event{Kind: subscription.PlanChanged, NewTerms: &terms})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "plan changed",
		logger.SubscriptionID(id),
		slog.String("from_plan_id", sub.PlanID),
		logger.PlanID(newPlanID))
	return out.Subscription, nil
}

// GetSubscription returns the public view of a subscription. Retry counters
// and payment history are included only when includeRetry is set.
func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID, includeRetry bool) (View, error) {
	sub, err := s.ledger.Get(ctx, id)
	if err != nil {
		return View{}, err
	}

	view := NewView(sub, s.now())
	if !includeRetry {
		return view, nil
	}

	attempts, err := s.ledger.Attempts(ctx, id)
	if err != nil {
		return View{}, err
	}
	view.Retry = &RetryView{
		AttemptsUsed: sub.RetryAttemptsUsed,
		MaxAttempts:  sub.Terms.MaxRetryAttempts,
		Enabled:      sub.Terms.RetryEnabled,
		NextRetryAt:  sub.NextRetryAt,
		Attempts:     attempts,
	}
	return view, nil
}

// ListPlans returns the plans open for new subscriptions.
func (s *Service) ListPlans(ctx context.Context) ([]plan.Plan, error) {
	plans, err := s.plans.ListPlans(ctx, true)
	if err != nil {
		return nil, subscription.External("list plans", err)
	}
	return plans, nil
}

func (s *Service) activePlan(ctx context.Context, id string) (plan.Plan, error) {
	pl, err := s.plans.GetPlan(ctx, id)
	switch {
	case errors.Is(err, plan.ErrPlanNotFound):
		return plan.Plan{}, fmt.Errorf("%w: %s: %w", ErrPlanUnavailable, id, err)
	case err != nil:
		return plan.Plan{}, subscription.External("get plan", err)
	case !pl.IsActive:
		return plan.Plan{}, fmt.Errorf("%w: %s: %w", ErrPlanUnavailable, id, plan.ErrPlanInactive)
	}
	return pl, nil
}
