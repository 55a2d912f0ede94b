package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Worker processes tasks from the queue
type Worker struct {
	repo     Repository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	mu       sync.RWMutex
	running  atomic.Bool

	pullInterval time.Duration
	lockTimeout  time.Duration
	backoff      time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewWorker creates a new task worker
func NewWorker(repo Repository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	w := &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		queues:       []string{DefaultQueueName},
		workerID:     uuid.New(),
		sem:          make(chan struct{}, 1),
		pullInterval: 5 * time.Second,
		lockTimeout:  5 * time.Minute,
		backoff:      30 * time.Second,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RegisterHandlers registers task handlers; a later handler with the same name replaces an earlier one.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Run pulls and processes tasks until ctx is cancelled, then waits for
// in-flight tasks to finish. It fits errgroup.Group.Go directly.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.RLock()
	n := len(w.handlers)
	w.mu.RUnlock()
	if n == 0 {
		return ErrNoHandlers
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.running.Store(false)

	w.logger.InfoContext(ctx, "worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)))

	var wg sync.WaitGroup
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping, waiting for active tasks",
				slog.String("worker_id", w.workerID.String()))
			wg.Wait()
			return nil
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
			default:
				continue // all slots busy
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-w.sem }()

				// Detached from ctx so shutdown lets the task finish.
				if _, err := w.ProcessNext(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrHandlerNotFound) {
					w.logger.Error("failed to process task",
						slog.String("worker_id", w.workerID.String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// ProcessNext claims and processes one due task. It reports false when nothing was due.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	task, err := w.repo.ClaimTask(ctx, w.workerID, w.queues, w.lockTimeout)
	if errors.Is(err, ErrNoTaskToClaim) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}

	w.logger.DebugContext(ctx, "claimed task",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.String("queue", task.Queue))

	return true, w.processTask(ctx, task)
}

func (w *Worker) processTask(ctx context.Context, task *Task) (retErr error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked",
				slog.String("task_id", task.ID.String()),
				slog.String("task_name", task.TaskName),
				slog.Any("panic", r))
			retErr = w.handleTaskFailure(ctx, task, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()

	if !ok {
		return w.handleMissingHandler(ctx, task)
	}

	hctx, cancel := context.WithTimeout(ctx, w.lockTimeout)
	defer cancel()

	if err := handler.Handle(hctx, task.Payload); err != nil {
		return w.handleTaskFailure(ctx, task, err, time.Since(start))
	}

	if err := w.repo.CompleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}

	w.logger.InfoContext(ctx, "task completed",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// handleMissingHandler moves the task straight to the DLQ; retrying cannot help.
func (w *Worker) handleMissingHandler(ctx context.Context, task *Task) error {
	w.logger.ErrorContext(ctx, "no handler registered for task",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName))

	if err := w.repo.FailTask(ctx, task.ID, "no handler registered for task: "+task.TaskName, w.now()); err != nil {
		return fmt.Errorf("failed to mark task %s as failed: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}
	return ErrHandlerNotFound
}

func (w *Worker) handleTaskFailure(ctx context.Context, task *Task, execErr error, duration time.Duration) error {
	attempt := task.RetryCount + 1

	w.logger.ErrorContext(ctx, "task failed",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.Int("attempt", int(attempt)),
		slog.Int("max_retries", int(task.MaxRetries)),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	retryAt := w.now().Add(time.Duration(attempt) * w.backoff)
	if err := w.repo.FailTask(ctx, task.ID, execErr.Error(), retryAt); err != nil {
		return fmt.Errorf("failed to update task %s status to failed: %w", task.ID, err)
	}

	if attempt >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("failed to move task %s to DLQ after max retries: %w", task.ID, err)
		}
		w.logger.WarnContext(ctx, "task moved to dead letter queue",
			slog.String("task_id", task.ID.String()),
			slog.String("task_name", task.TaskName))
	}
	return nil
}
