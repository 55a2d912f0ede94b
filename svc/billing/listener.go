package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-h/templ"
	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/email"
	"github.com/dmitrymomot/clinicbilling/pkg/email/templates"
	"github.com/dmitrymomot/clinicbilling/pkg/events"
	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/plan"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

// StatusChangedKey is the routing key of status change events.
const StatusChangedKey = "subscription.status_changed"

// Email tags.
const (
	TagPaymentFailed         = "payment-failed"
	TagSubscriptionCancelled = "subscription-cancelled"
)

// StatusChanged is the message published when a subscription changes status.
type StatusChanged struct {
	SubscriptionID uuid.UUID           `json:"subscription_id"`
	CustomerID     string              `json:"customer_id"`
	PlanID         string              `json:"plan_id"`
	From           subscription.Status `json:"from"`
	To             subscription.Status `json:"to"`
	EventKind      string              `json:"event_kind"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

// Listener reacts to committed ledger outcomes. Register Listener.Observe
// with subscription.WithListener. Failures are logged and never undo the
// transition; Sweep recovers lost retries.
type Listener struct {
	retries   RetryScheduler
	gateway   gateway.Gateway
	plans     plan.Catalog
	mailer    email.Sender
	publisher events.Publisher
	logger    *slog.Logger
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithMailer enables customer notifications.
func WithMailer(m email.Sender) ListenerOption {
	return func(l *Listener) {
		l.mailer = m
	}
}

// WithPublisher enables status change events.
func WithPublisher(p events.Publisher) ListenerOption {
	return func(l *Listener) {
		l.publisher = p
	}
}

// WithPlanCatalog resolves plan names for notifications.
func WithPlanCatalog(c plan.Catalog) ListenerOption {
	return func(l *Listener) {
		l.plans = c
	}
}

// WithListenerLogger sets the listener logger.
func WithListenerLogger(lg *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewListener creates a listener. Panics if retries or gw is nil.
func NewListener(retries RetryScheduler, gw gateway.Gateway, opts ...ListenerOption) *Listener {
	if retries == nil {
		panic("billing: retry scheduler is required")
	}
	if gw == nil {
		panic("billing: gateway is required")
	}
	l := &Listener{
		retries: retries,
		gateway: gw,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Observe is a subscription.Listener.
func (l *Listener) Observe(ctx context.Context, out subscription.Outcome) {
	if !out.Applied || out.Subscription == nil {
		return
	}
	sub := out.Subscription

	if out.Retry != nil && out.Retry.Retry {
		if err := l.retries.Schedule(ctx, sub.ID, *out.Retry); err != nil {
			l.logger.ErrorContext(ctx, "failed to schedule charge retry",
				logger.SubscriptionID(sub.ID),
				logger.Attempt(out.Retry.Attempt),
				logger.Error(err))
		}
	}

	if out.Event.Kind == subscription.ChargeFailed {
		l.notifyPaymentFailed(ctx, out)
	}

	if out.Exhausted {
		l.cancelAtProcessor(ctx, sub)
		l.notifyCancelled(ctx, sub, fmt.Sprintf(
			"We could not collect payment after %d retry attempt(s).", sub.RetryAttemptsUsed))
	}

	if out.StatusChanged() {
		l.publish(ctx, out)
	}
}

func (l *Listener) cancelAtProcessor(ctx context.Context, sub *subscription.Subscription) {
	if sub.ProcessorSubscriptionID == "" {
		return
	}
	err := l.gateway.CancelSubscription(ctx, sub.ProcessorSubscriptionID, true)
	if err != nil && !errors.Is(err, gateway.ErrNotFound) {
		l.logger.ErrorContext(ctx, "failed to cancel processor subscription",
			logger.SubscriptionID(sub.ID),
			slog.String("processor_subscription_id", sub.ProcessorSubscriptionID),
			logger.Error(err))
	}
}

func (l *Listener) notifyPaymentFailed(ctx context.Context, out subscription.Outcome) {
	sub := out.Subscription
	data := templates.PaymentFailedData{
		CustomerID:     sub.CustomerID,
		PlanName:       l.planName(ctx, sub.PlanID),
		AmountMinor:    sub.Price(),
		Currency:       sub.Terms.Currency,
		DeclineMessage: gateway.DeclineMessage(out.Event.DeclineCode),
	}
	if out.Attempt != nil {
		data.AmountMinor = out.Attempt.Amount
	}
	if out.Retry != nil && out.Retry.Retry {
		at := out.Retry.At
		data.NextRetryAt = &at
		data.AttemptsLeft = max(sub.Terms.MaxRetryAttempts-out.Retry.Attempt+1, 0)
	}
	l.send(ctx, sub, "Your payment could not be processed", TagPaymentFailed, templates.PaymentFailed(data))
}

func (l *Listener) notifyCancelled(ctx context.Context, sub *subscription.Subscription, reason string) {
	data := templates.SubscriptionCancelledData{
		CustomerID:  sub.CustomerID,
		PlanName:    l.planName(ctx, sub.PlanID),
		Reason:      reason,
		CancelledAt: sub.UpdatedAt,
	}
	if sub.CancelledAt != nil {
		data.CancelledAt = *sub.CancelledAt
	}
	l.send(ctx, sub, "Your subscription has been cancelled", TagSubscriptionCancelled, templates.SubscriptionCancelled(data))
}

func (l *Listener) send(ctx context.Context, sub *subscription.Subscription, subject, tag string, body templ.Component) {
	if l.mailer == nil || sub.CustomerEmail == "" {
		return
	}
	html, err := templates.Render(ctx, body)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to render email", logger.SubscriptionID(sub.ID), slog.String("tag", tag), logger.Error(err))
		return
	}
	err = l.mailer.SendEmail(ctx, email.SendEmailParams{
		SendTo:   sub.CustomerEmail,
		Subject:  subject,
		BodyHTML: html,
		Tag:      tag,
	})
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to send email", logger.SubscriptionID(sub.ID), slog.String("tag", tag), logger.Error(err))
	}
}

func (l *Listener) publish(ctx context.Context, out subscription.Outcome) {
	if l.publisher == nil {
		return
	}
	sub := out.Subscription
	msg := StatusChanged{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         sub.PlanID,
		From:           out.Previous,
		To:             sub.Status,
		EventKind:      string(out.Event.Kind),
		OccurredAt:     out.Event.OccurredAt,
	}
	if err := events.PublishJSON(ctx, l.publisher, StatusChangedKey, msg); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish status change",
			logger.SubscriptionID(sub.ID),
			logger.Status(sub.Status),
			logger.Error(err))
	}
}

func (l *Listener) planName(ctx context.Context, id string) string {
	if l.plans == nil {
		return id
	}
	p, err := l.plans.GetPlan(ctx, id)
	if err != nil {
		return id
	}
	return p.Name
}
