package domain

import "time"

// TaskKind identifies what a queued task does.
type TaskKind string

// TaskFetchMetrics pulls a fresh snapshot for one integration.
const TaskFetchMetrics TaskKind = "fetch_metrics"

// TaskState is where a queued task is in its lifecycle.
type TaskState string

const (
	TaskQueued  TaskState = "queued"
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
	TaskDead    TaskState = "dead"
)

// DefaultTaskAttempts bounds how often a fetch is tried before it is dropped.
const DefaultTaskAttempts = 3

const (
	retryBase = 30 * time.Second
	retryMax  = 15 * time.Minute
)

// Task is a queued metrics fetch for one user's integration.
type Task struct {
	ID          string          `json:"id"`
	Kind        TaskKind        `json:"kind"`
	UserID      string          `json:"userId"`
	Integration IntegrationType `json:"integrationType"`

	State       TaskState `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	LastError   string    `json:"lastError,omitempty"`

	// NotBefore holds a retried task back until its backoff has passed.
	NotBefore  time.Time  `json:"notBefore"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// NewFetchMetricsTask queues an immediate fetch for (userID, t).
func NewFetchMetricsTask(userID string, t IntegrationType) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:          GenerateID(),
		Kind:        TaskFetchMetrics,
		UserID:      userID,
		Integration: t,
		State:       TaskQueued,
		MaxAttempts: DefaultTaskAttempts,
		NotBefore:   now,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}
}

// Due reports whether a worker may claim the task at now.
func (t *Task) Due(now time.Time) bool {
	return t.State == TaskQueued && !now.Before(t.NotBefore)
}

// LastAttempt reports whether a failure of the current attempt ends the task.
func (t *Task) LastAttempt() bool {
	return t.Attempts >= t.MaxAttempts
}

// Start claims the task for one attempt.
func (t *Task) Start(now time.Time) {
	t.State = TaskRunning
	t.Attempts++
	t.StartedAt = &now
	t.UpdatedAt = now
}

// Finish marks the attempt successful.
func (t *Task) Finish(now time.Time) {
	t.State = TaskDone
	t.LastError = ""
	t.FinishedAt = &now
	t.UpdatedAt = now
}

// Fail records a failed attempt. It reports true when the task went back to
// the queue and false when its attempts are used up.
func (t *Task) Fail(now time.Time, reason string) bool {
	t.LastError = reason
	t.UpdatedAt = now
	if t.LastAttempt() {
		t.State = TaskDead
		t.FinishedAt = &now
		return false
	}
	t.State = TaskQueued
	t.NotBefore = now.Add(RetryDelay(t.Attempts))
	return true
}

// RetryDelay is the backoff after the given failed attempt: 30s, 1m, 2m and
// so on, capped at 15 minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryMax {
			return retryMax
		}
	}
	return d
}
