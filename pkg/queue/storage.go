package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage contract shared by the enqueuer, worker and scheduler.
type Repository interface {
	// CreateTask stores a new task. Returns ErrDuplicateTask if the ID is taken.
	CreateTask(ctx context.Context, task *Task) error

	// ClaimTask atomically locks the oldest due pending task in one of queues.
	// Returns ErrNoTaskToClaim when nothing is due.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)

	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records errMsg and increments the retry count. While retries
	// remain the task returns to pending at retryAt; otherwise it becomes failed.
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error

	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error

	// GetPendingTaskByName returns a pending or processing task with the name, if any.
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}
