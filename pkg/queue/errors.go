package queue

import "errors"

var (
	ErrRepositoryNil         = errors.New("queue: repository cannot be nil")
	ErrPayloadNil            = errors.New("queue: payload cannot be nil")
	ErrDuplicateTask         = errors.New("queue: task with this id already exists")
	ErrTaskNotFound          = errors.New("queue: task not found")
	ErrTaskNotProcessing     = errors.New("queue: task is not in processing state")
	ErrNoTaskToClaim         = errors.New("queue: no task available")
	ErrHandlerNotFound       = errors.New("queue: no handler registered for task")
	ErrNoHandlers            = errors.New("queue: no task handlers registered")
	ErrTaskAlreadyRegistered = errors.New("queue: periodic task already registered")
	ErrNoPeriodicTasks       = errors.New("queue: scheduler has no registered tasks")
	ErrAlreadyRunning        = errors.New("queue: already running")
)
