// Package queue is a small persistent task queue.
//
// Producers call Enqueuer.Enqueue with any JSON-serialisable payload. A
// Worker claims due tasks, dispatches them to a Handler registered under the
// payload's type name, retries failures with linear backoff and moves tasks
// that exhaust their retries to a dead letter queue. A Scheduler enqueues
// payload-less periodic tasks on a Schedule.
//
// Task IDs are caller-controllable (WithTaskID). Storage rejects a second task
// with the same ID with ErrDuplicateTask, which lets producers derive IDs from
// business keys and enqueue idempotently.
//
// Storage is pluggable through Repository. MemoryStorage is provided for tests
// and single-process deployments; pkg/storage/postgres provides a durable
// implementation.
package queue
