// Package postgres implements the task queue on the tasks table. It is used
// when Redis is not configured.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*Queue)(nil)

// pollInterval is how often Dequeue re-checks an empty table.
const pollInterval = 500 * time.Millisecond

const columns = `id, kind, user_id, integration_type, state, attempts,
	max_attempts, last_error, not_before, enqueued_at, updated_at,
	started_at, finished_at`

// Queue claims rows with FOR UPDATE SKIP LOCKED so concurrent workers never
// receive the same task.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// NewQueue expects the tasks table from the postgres schema.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		task.ID, task.Kind, task.UserID, task.Integration, task.State,
		task.Attempts, task.MaxAttempts, task.LastError, task.NotBefore,
		task.EnqueuedAt, task.UpdatedAt, task.StartedAt, task.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Dequeue polls until a due task is claimed or wait passes.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*domain.Task, error) {
	deadline := q.now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		task, err := q.claim(ctx)
		if err != nil || task != nil {
			return task, err
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// claim starts the oldest due task in a single statement.
func (q *Queue) claim(ctx context.Context) (*domain.Task, error) {
	now := q.now().UTC()
	row := q.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET state = $1, attempts = attempts + 1, started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE state = $3 AND not_before <= $2
			ORDER BY not_before, enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+columns,
		domain.TaskRunning, now, domain.TaskQueued,
	)
	task, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (q *Queue) Ack(ctx context.Context, taskID string) error {
	return q.settle(ctx, taskID, func(t *domain.Task, now time.Time) { t.Finish(now) })
}

func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	return q.settle(ctx, taskID, func(t *domain.Task, now time.Time) { t.Fail(now, reason) })
}

// settle applies a state change to a locked row.
func (q *Queue) settle(ctx context.Context, taskID string, apply func(*domain.Task, time.Time)) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := scan(tx.QueryRowContext(ctx, `SELECT `+columns+` FROM tasks WHERE id = $1 FOR UPDATE`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	apply(task, q.now().UTC())

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET state = $1, last_error = $2, not_before = $3, updated_at = $4, finished_at = $5
		WHERE id = $6
	`, task.State, task.LastError, task.NotBefore, task.UpdatedAt, task.FinishedAt, task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (q *Queue) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := scan(q.db.QueryRowContext(ctx, `SELECT `+columns+` FROM tasks WHERE id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

func (q *Queue) Stats(ctx context.Context) (driven.QueueStats, error) {
	var stats driven.QueueStats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = $1),
			COUNT(*) FILTER (WHERE state = $2),
			COUNT(*) FILTER (WHERE state = $3),
			COUNT(*) FILTER (WHERE state = $4)
		FROM tasks
	`, domain.TaskQueued, domain.TaskRunning, domain.TaskDone, domain.TaskDead).
		Scan(&stats.Queued, &stats.Running, &stats.Done, &stats.Dead)
	if err != nil {
		return stats, fmt.Errorf("count tasks: %w", err)
	}
	return stats, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

func scan(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var t domain.Task
	var started, finished sql.NullTime
	err := row.Scan(
		&t.ID, &t.Kind, &t.UserID, &t.Integration, &t.State, &t.Attempts,
		&t.MaxAttempts, &t.LastError, &t.NotBefore, &t.EnqueuedAt, &t.UpdatedAt,
		&started, &finished,
	)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if finished.Valid {
		t.FinishedAt = &finished.Time
	}
	return &t, nil
}
