package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler enqueues periodic tasks. At most one pending instance of a
// periodic task exists at a time, so several scheduler replicas can run side
// by side without piling up work.
type Scheduler struct {
	repo     Repository
	tasks    map[string]*scheduledTask
	mu       sync.Mutex
	interval time.Duration
	queue    string
	logger   *slog.Logger
	now      func() time.Time
}

type scheduledTask struct {
	name            string
	schedule        Schedule
	lastScheduledAt *time.Time
}

// NewScheduler creates a new task scheduler
func NewScheduler(repo Repository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	s := &Scheduler{
		repo:     repo,
		tasks:    make(map[string]*scheduledTask),
		interval: 30 * time.Second,
		queue:    DefaultQueueName,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddTask registers a periodic task. Its handler is registered on the worker
// with NewPeriodicTaskHandler under the same name.
func (s *Scheduler) AddTask(name string, schedule Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}
	s.tasks[name] = &scheduledTask{name: name, schedule: schedule}

	s.logger.Info("registered periodic task",
		slog.String("task_name", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Run checks registered tasks every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.tasks)
	s.mu.Unlock()
	if n == 0 {
		return ErrNoPeriodicTasks
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick creates every periodic task that is due.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, task := range s.tasks {
		if err := s.scheduleIfDue(ctx, task, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to schedule task",
				slog.String("task_name", task.name),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) scheduleIfDue(ctx context.Context, task *scheduledTask, now time.Time) error {
	var nextRun time.Time
	if task.lastScheduledAt == nil {
		nextRun = task.schedule.Next(now)
	} else {
		nextRun = task.schedule.Next(*task.lastScheduledAt)
		if nextRun.After(now) {
			return nil
		}
		if nextRun.Before(now) {
			nextRun = now // missed ticks collapse into one run
		}
	}

	existing, err := s.repo.GetPendingTaskByName(ctx, task.name)
	switch {
	case err == nil && existing != nil:
		task.lastScheduledAt = &existing.ScheduledAt
		return nil
	case err != nil && !errors.Is(err, ErrTaskNotFound):
		return fmt.Errorf("look up pending %q: %w", task.name, err)
	}

	if err := s.repo.CreateTask(ctx, &Task{
		ID:          uuid.New(),
		Queue:       s.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    task.name,
		Status:      TaskStatusPending,
		MaxRetries:  1,
		ScheduledAt: nextRun,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("failed to create periodic task: %w", err)
	}

	task.lastScheduledAt = &nextRun
	s.logger.DebugContext(ctx, "created periodic task",
		slog.String("task_name", task.name),
		slog.Time("scheduled_for", nextRun))
	return nil
}
