package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clinicbilling/pkg/pg"
	"github.com/dmitrymomot/clinicbilling/pkg/queue"
)

// TaskStore implements queue.Repository. Claims use FOR UPDATE SKIP LOCKED,
// so any number of workers may poll the same queues.
type TaskStore struct {
	pool *pgxpool.Pool
	tx   *pg.Transactor
	now  func() time.Time
}

var _ queue.Repository = (*TaskStore)(nil)

// TaskStoreOption configures a TaskStore.
type TaskStoreOption func(*TaskStore)

// WithTaskClock overrides the time source used for scheduling decisions.
func WithTaskClock(now func() time.Time) TaskStoreOption {
	return func(s *TaskStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewTaskStore(pool *pgxpool.Pool, opts ...TaskStoreOption) *TaskStore {
	s := &TaskStore{
		pool: pool,
		tx:   pg.NewTransactor(pool),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const taskColumns = `id, queue, task_type, task_name, payload, status, retry_count, max_retries,
	scheduled_at, locked_until, locked_by, processed_at, error, created_at`

func (s *TaskStore) CreateTask(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return errors.New("queue: task cannot be nil")
	}

	// A dead-lettered id must not come back as a fresh task.
	tag, err := pg.Executor(ctx, s.pool).Exec(ctx, `INSERT INTO queue_tasks (`+taskColumns+`)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		WHERE NOT EXISTS (SELECT 1 FROM queue_dead_letters WHERE task_id = $1)`,
		task.ID, task.Queue, string(task.TaskType), task.TaskName, task.Payload, string(task.Status),
		task.RetryCount, task.MaxRetries, task.ScheduledAt, task.LockedUntil, task.LockedBy,
		task.ProcessedAt, task.Error, task.CreatedAt)
	if pg.IsDuplicateKeyError(err) {
		return queue.ErrDuplicateTask
	}
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrDuplicateTask
	}
	return nil
}

func (s *TaskStore) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	now := s.now().UTC()
	task, err := scanTask(pg.Executor(ctx, s.pool).QueryRow(ctx, `UPDATE queue_tasks
		SET status = 'processing', locked_until = $3, locked_by = $4
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = ANY($1)
				AND scheduled_at <= $2
				AND (status = 'pending' OR (status = 'processing' AND locked_until < $2))
			ORDER BY scheduled_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns, queues, now, now.Add(lockDuration), workerID))
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (s *TaskStore) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := pg.Executor(ctx, s.pool).Exec(ctx, `UPDATE queue_tasks
		SET status = 'completed', processed_at = $2, locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`, taskID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrIdle(ctx, taskID)
	}
	return nil
}

func (s *TaskStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error {
	tag, err := pg.Executor(ctx, s.pool).Exec(ctx, `UPDATE queue_tasks
		SET retry_count = retry_count + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at ELSE $3 END
		WHERE id = $1 AND status = 'processing'`, taskID, errMsg, retryAt)
	if err != nil {
		return fmt.Errorf("fail task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrIdle(ctx, taskID)
	}
	return nil
}

func (s *TaskStore) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		db := pg.Executor(ctx, s.pool)

		task, err := scanTask(db.QueryRow(ctx, `DELETE FROM queue_tasks WHERE id = $1 RETURNING `+taskColumns, taskID))
		if pg.IsNotFoundError(err) {
			return queue.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("remove task %s: %w", taskID, err)
		}

		errMsg := ""
		if task.Error != nil {
			errMsg = *task.Error
		}
		if _, err := db.Exec(ctx, `INSERT INTO queue_dead_letters
				(id, task_id, queue, task_type, task_name, payload, error, retry_count, failed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), task.ID, task.Queue, string(task.TaskType), task.TaskName, task.Payload,
			errMsg, task.RetryCount, s.now().UTC()); err != nil {
			return fmt.Errorf("insert dead letter %s: %w", taskID, err)
		}
		return nil
	})
}

func (s *TaskStore) GetPendingTaskByName(ctx context.Context, taskName string) (*queue.Task, error) {
	task, err := scanTask(pg.Executor(ctx, s.pool).QueryRow(ctx, `SELECT `+taskColumns+`
		FROM queue_tasks
		WHERE task_name = $1 AND status IN ('pending', 'processing')
		ORDER BY scheduled_at
		LIMIT 1`, taskName))
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %q: %w", taskName, err)
	}
	return task, nil
}

// DeadLetters returns the newest dead-lettered tasks.
func (s *TaskStore) DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := pg.Executor(ctx, s.pool).Query(ctx, `SELECT
			id, task_id, queue, task_type, task_name, payload, error, retry_count, failed_at
		FROM queue_dead_letters ORDER BY failed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []queue.DeadLetter
	for rows.Next() {
		var (
			d        queue.DeadLetter
			taskType string
		)
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Queue, &taskType, &d.TaskName, &d.Payload,
			&d.Error, &d.RetryCount, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.TaskType = queue.TaskType(taskType)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *TaskStore) missingOrIdle(ctx context.Context, taskID uuid.UUID) error {
	var exists bool
	if err := pg.Executor(ctx, s.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("check task %s: %w", taskID, err)
	}
	if !exists {
		return queue.ErrTaskNotFound
	}
	return queue.ErrTaskNotProcessing
}

func scanTask(row pgx.Row) (*queue.Task, error) {
	var (
		t        queue.Task
		taskType string
		status   string
	)
	if err := row.Scan(&t.ID, &t.Queue, &taskType, &t.TaskName, &t.Payload, &status, &t.RetryCount,
		&t.MaxRetries, &t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error,
		&t.CreatedAt); err != nil {
		return nil, err
	}
	t.TaskType = queue.TaskType(taskType)
	t.Status = queue.TaskStatus(status)
	return &t, nil
}
