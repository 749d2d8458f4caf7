package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// TaskQueue hands metrics fetches from the API to workers. Redis streams
// back it when REDIS_URL is set, the tasks table otherwise.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.Task) error

	// Dequeue claims the next due task, waiting up to wait for one.
	// Returns nil, nil when nothing arrives in time.
	Dequeue(ctx context.Context, wait time.Duration) (*domain.Task, error)

	// Ack marks a claimed task done.
	Ack(ctx context.Context, taskID string) error

	// Nack records a failed attempt. The task is requeued with backoff
	// until its attempts run out.
	Nack(ctx context.Context, taskID string, reason string) error

	// Get returns a task by ID, or domain.ErrNotFound.
	Get(ctx context.Context, taskID string) (*domain.Task, error)

	Stats(ctx context.Context) (QueueStats, error)

	Ping(ctx context.Context) error
}

// QueueStats counts tasks by state. Done and Dead are running totals.
type QueueStats struct {
	Queued  int64 `json:"queued"`
	Running int64 `json:"running"`
	Done    int64 `json:"done"`
	Dead    int64 `json:"dead"`
}
