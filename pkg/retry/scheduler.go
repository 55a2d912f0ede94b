package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/queue"
)

// TaskName is the queue task that re-attempts a failed charge.
const TaskName = "billing.charge_retry"

// taskNamespace scopes deterministic retry task IDs.
var taskNamespace = uuid.MustParse("6f1f7d0e-3b1a-4c55-9d87-2a4f0b6c9e13")

// ErrNotScheduled is returned when Schedule is given an exhausted decision.
var ErrNotScheduled = errors.New("retry: decision does not schedule a retry")

// ChargeRetry is the payload of a retry task.
type ChargeRetry struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Cycle          int       `json:"cycle"`
	Attempt        int       `json:"attempt"`
}

// Enqueuer is the part of queue.Enqueuer the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// Scheduler turns retry decisions into delayed queue tasks.
type Scheduler struct {
	enqueuer Enqueuer
	queue    string
	logger   *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithQueue sets the queue retry tasks go to.
func WithQueue(name string) SchedulerOption {
	return func(s *Scheduler) {
		if name != "" {
			s.queue = name
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates a retry scheduler. Panics if enqueuer is nil.
func NewScheduler(enqueuer Enqueuer, opts ...SchedulerOption) *Scheduler {
	if enqueuer == nil {
		panic("retry: enqueuer is required")
	}
	s := &Scheduler{
		enqueuer: enqueuer,
		queue:    queue.DefaultQueueName,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TaskID returns the task ID of a retry attempt. The same subscription, cycle
// and attempt always give the same ID; a new failure cycle gets new IDs.
func TaskID(subscriptionID uuid.UUID, cycle, attempt int) uuid.UUID {
	key := subscriptionID.String() + ":" + strconv.Itoa(cycle) + ":" + strconv.Itoa(attempt)
	return uuid.NewSHA1(taskNamespace, []byte(key))
}

// Schedule enqueues the retry described by d. Scheduling an attempt that is
// already queued is a no-op.
func (s *Scheduler) Schedule(ctx context.Context, subscriptionID uuid.UUID, d Decision) error {
	if !d.Retry {
		return ErrNotScheduled
	}

	err := s.enqueuer.Enqueue(ctx,
		ChargeRetry{SubscriptionID: subscriptionID, Cycle: d.Cycle, Attempt: d.Attempt},
		queue.WithTaskID(TaskID(subscriptionID, d.Cycle, d.Attempt)),
		queue.WithTaskName(TaskName),
		queue.WithQueue(s.queue),
		queue.WithScheduledAt(d.At),
	)
	switch {
	case errors.Is(err, queue.ErrDuplicateTask):
		s.logger.DebugContext(ctx, "retry already scheduled",
			logger.SubscriptionID(subscriptionID),
			slog.Int("cycle", d.Cycle),
			logger.Attempt(d.Attempt))
		return nil
	case err != nil:
		return fmt.Errorf("schedule retry %d.%d for subscription %s: %w", d.Cycle, d.Attempt, subscriptionID, err)
	}

	s.logger.InfoContext(ctx, "charge retry scheduled",
		logger.SubscriptionID(subscriptionID),
		slog.Int("cycle", d.Cycle),
		logger.Attempt(d.Attempt),
		slog.Time("at", d.At))
	return nil
}
