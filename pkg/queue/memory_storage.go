package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Repository for tests and local development.
// Expired locks are released lazily on the next claim.
type MemoryStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	dlq   []DeadLetter
	now   func() time.Time
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[uuid.UUID]*Task),
		now:   time.Now,
	}
}

// SetClock overrides the time source; intended for tests.
func (ms *MemoryStorage) SetClock(now func() time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.now = now
}

func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return errors.New("queue: task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return ErrDuplicateTask
	}
	if slices.ContainsFunc(ms.dlq, func(d DeadLetter) bool { return d.TaskID == task.ID }) {
		return ErrDuplicateTask
	}

	taskCopy := *task
	ms.tasks[task.ID] = &taskCopy
	return nil
}

func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task

	for _, task := range ms.tasks {
		if task.Status == TaskStatusProcessing && task.LockedUntil != nil && task.LockedUntil.Before(now) {
			// worker died holding the lock
			task.Status = TaskStatusPending
			task.LockedUntil = nil
			task.LockedBy = nil
		}
		if task.Status != TaskStatusPending || !slices.Contains(queues, task.Queue) || task.ScheduledAt.After(now) {
			continue
		}
		if best == nil || task.ScheduledAt.Before(best.ScheduledAt) {
			best = task
		}
	}

	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	taskCopy := *best
	return &taskCopy, nil
}

func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}

	now := ms.now()
	task.Status = TaskStatusCompleted
	task.ProcessedAt = &now
	task.LockedUntil = nil
	task.LockedBy = nil
	return nil
}

func (ms *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processing(taskID)
	if err != nil {
		return err
	}

	task.RetryCount++
	task.Error = &errMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	if task.RetryCount >= task.MaxRetries {
		task.Status = TaskStatusFailed
		return nil
	}
	task.Status = TaskStatusPending
	task.ScheduledAt = retryAt
	return nil
}

func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	entry := DeadLetter{
		ID:         uuid.New(),
		TaskID:     task.ID,
		Queue:      task.Queue,
		TaskType:   task.TaskType,
		TaskName:   task.TaskName,
		Payload:    task.Payload,
		RetryCount: task.RetryCount,
		FailedAt:   ms.now(),
	}
	if task.Error != nil {
		entry.Error = *task.Error
	}

	ms.dlq = append(ms.dlq, entry)
	delete(ms.tasks, taskID)
	return nil
}

func (ms *MemoryStorage) GetPendingTaskByName(_ context.Context, taskName string) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, task := range ms.tasks {
		if task.TaskName == taskName && (task.Status == TaskStatusPending || task.Status == TaskStatusProcessing) {
			taskCopy := *task
			return &taskCopy, nil
		}
	}
	return nil, ErrTaskNotFound
}

// Task returns a copy of a stored task.
func (ms *MemoryStorage) Task(taskID uuid.UUID) (*Task, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, false
	}
	taskCopy := *task
	return &taskCopy, true
}

// Tasks returns copies of all live tasks with the given name.
func (ms *MemoryStorage) Tasks(taskName string) []Task {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []Task
	for _, task := range ms.tasks {
		if task.TaskName == taskName {
			out = append(out, *task)
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return a.ScheduledAt.Compare(b.ScheduledAt) })
	return out
}

// DeadLetters returns a copy of the dead letter queue.
func (ms *MemoryStorage) DeadLetters() []DeadLetter {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return slices.Clone(ms.dlq)
}

func (ms *MemoryStorage) processing(taskID uuid.UUID) (*Task, error) {
	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if task.Status != TaskStatusProcessing {
		return nil, ErrTaskNotProcessing
	}
	return task, nil
}
