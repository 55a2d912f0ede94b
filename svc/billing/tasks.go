package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/clinicbilling/pkg/gateway"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/queue"
	"github.com/dmitrymomot/clinicbilling/pkg/retry"
	"github.com/dmitrymomot/clinicbilling/pkg/subscription"
)

// SweepTaskName is the periodic task that processes due subscriptions.
const SweepTaskName = "billing.sweep"

// TaskHandlers returns the queue handlers of the service.
func (s *Service) TaskHandlers() []queue.Handler {
	return []queue.Handler{
		queue.NewNamedTaskHandler(retry.TaskName, s.RetryCharge),
		queue.NewPeriodicTaskHandler(SweepTaskName, s.Sweep),
	}
}

// RetryCharge re-attempts payment of the last failed invoice. The result
// reaches the ledger through the processor's webhook, so a decline here is
// not an error. Tasks that no longer match the subscription are skipped.
func (s *Service) RetryCharge(ctx context.Context, task retry.ChargeRetry) error {
	log := s.logger.With(
		logger.SubscriptionID(task.SubscriptionID),
		slog.Int("cycle", task.Cycle),
		logger.Attempt(task.Attempt))

	sub, err := s.ledger.Get(ctx, task.SubscriptionID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "charge retry for unknown subscription")
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != subscription.StatusPastDue || sub.RetryCycle != task.Cycle || sub.RetryAttemptsUsed != task.Attempt {
		log.DebugContext(ctx, "stale charge retry skipped",
			logger.Status(sub.Status),
			slog.Int("retry_cycle", sub.RetryCycle),
			slog.Int("retry_attempts_used", sub.RetryAttemptsUsed))
		return nil
	}

	attempts, err := s.ledger.Attempts(ctx, sub.ID)
	if err != nil {
		return err
	}
	paymentID := lastFailedPayment(attempts)
	if paymentID == "" {
		log.WarnContext(ctx, "charge retry without a failed processor payment")
		return nil
	}

	err = s.gateway.RetryPayment(ctx, paymentID)
	switch {
	case err == nil:
		log.InfoContext(ctx, "charge retry submitted", slog.String("processor_payment_id", paymentID))
	case errors.Is(err, gateway.ErrPaymentDeclined):
		log.InfoContext(ctx, "charge retry declined",
			slog.String("processor_payment_id", paymentID),
			slog.String("decline_code", gateway.DeclineCode(err)))
	default:
		return fmt.Errorf("retry payment %s: %w", paymentID, err)
	}
	return nil
}

// Sweep ends pending cancellations whose period is over and re-enqueues
// retries that are due, so a retry lost between commit and enqueue still runs.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now().UTC()
	var errs []error

	ending, err := s.ledger.Due(ctx, subscription.StatusPendingCancellation, now, s.sweepBatch)
	if err != nil {
		return err
	}
	for _, sub := range ending {
		_, err := s.ledger.Apply(ctx, sub.ID, subscription.Event{Kind: subscription.PeriodEndReached, OccurredAt: now})
		switch {
		case err == nil:
		case subscription.IsConflict(err):
			s.logger.DebugContext(ctx, "period end already handled", logger.SubscriptionID(sub.ID), logger.Error(err))
		default:
			errs = append(errs, fmt.Errorf("end subscription %s: %w", sub.ID, err))
		}
	}

	if s.retries == nil {
		return errors.Join(errs...)
	}

	overdue, err := s.ledger.Due(ctx, subscription.StatusPastDue, now, s.sweepBatch)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, sub := range overdue {
		if sub.NextRetryAt == nil || sub.RetryAttemptsUsed == 0 {
			continue
		}
		d := retry.Decision{
			Retry:   true,
			Attempt: sub.RetryAttemptsUsed,
			Cycle:   sub.RetryCycle,
			At:      *sub.NextRetryAt,
			Reason:  retry.ReasonScheduled,
		}
		if err := s.retries.Schedule(ctx, sub.ID, d); err != nil {
			errs = append(errs, err)
		}
	}

	if len(ending) > 0 || len(overdue) > 0 {
		s.logger.InfoContext(ctx, "billing sweep finished",
			slog.Int("period_ends", len(ending)),
			slog.Int("overdue_retries", len(overdue)),
			slog.Int("errors", len(errs)))
	}
	return errors.Join(errs...)
}

func lastFailedPayment(attempts []subscription.PaymentAttempt) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Outcome == subscription.AttemptFailed && attempts[i].ProcessorPaymentID != "" {
			return attempts[i].ProcessorPaymentID
		}
	}
	return ""
}
