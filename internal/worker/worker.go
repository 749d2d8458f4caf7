// Package worker drains the task queue and runs metrics fetches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
)

const (
	defaultDequeueTimeout = 5 * time.Second
	defaultErrorBackoff   = time.Second
)

// Worker runs a fixed pool of consumers against the task queue.
type Worker struct {
	queue   driven.TaskQueue
	metrics driving.MetricsService
	logger  *slog.Logger

	concurrency    int
	dequeueTimeout time.Duration
	errorBackoff   time.Duration

	mu sync.Mutex
	// stopPolling ends the dequeue loops; abort cancels in-flight tasks.
	stopPolling context.CancelFunc
	abort       context.CancelFunc
	doneCh      chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue driven.TaskQueue
	Metrics   driving.MetricsService
	Logger    *slog.Logger

	// Concurrency is the number of consumers (default 1).
	Concurrency int
	// DequeueTimeout is how long one dequeue waits for a task (default 5s).
	DequeueTimeout time.Duration
	// ErrorBackoff is the pause after a queue error (default 1s).
	ErrorBackoff time.Duration
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		queue:          cfg.TaskQueue,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		concurrency:    cfg.Concurrency,
		dequeueTimeout: cfg.DequeueTimeout,
		errorBackoff:   cfg.ErrorBackoff,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.dequeueTimeout <= 0 {
		w.dequeueTimeout = defaultDequeueTimeout
	}
	if w.errorBackoff <= 0 {
		w.errorBackoff = defaultErrorBackoff
	}
	return w
}

// Start launches the consumers and returns. They stop polling when Stop is
// called or ctx is cancelled. A task already claimed runs to completion on a
// context that outlives ctx, so it can still be acked or nacked.
func (w *Worker) Start(ctx context.Context) error {
	if w.queue == nil {
		return errors.New("worker requires a task queue")
	}
	if w.metrics == nil {
		return errors.New("worker requires a metrics service")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.doneCh != nil {
		return nil
	}
	pollCtx, stopPolling := context.WithCancel(ctx)
	taskCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	w.stopPolling, w.abort = stopPolling, abort
	w.doneCh = make(chan struct{})

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	var wg sync.WaitGroup
	wg.Add(w.concurrency)
	for i := range w.concurrency {
		go func() {
			defer wg.Done()
			w.consume(pollCtx, taskCtx, i)
		}()
	}
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(w.doneCh)

	return nil
}

// Stop ends polling and waits for in-flight tasks. When ctx expires first the
// remaining tasks are cancelled and ctx's error is returned once they exit.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	stopPolling, abort, done := w.stopPolling, w.abort, w.doneCh
	w.stopPolling, w.abort, w.doneCh = nil, nil, nil
	w.mu.Unlock()

	if done == nil {
		return nil
	}
	defer abort()
	stopPolling()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		w.logger.Warn("worker shutdown deadline reached, cancelling in-flight tasks")
		abort()
		<-done
	}
	w.logger.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return err
}

// Running reports whether consumers are active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	done := w.doneCh
	w.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// consume dequeues on pollCtx and runs each claimed task on taskCtx.
func (w *Worker) consume(pollCtx, taskCtx context.Context, id int) {
	logger := w.logger.With("consumer", id)

	for pollCtx.Err() == nil {
		task, err := w.queue.Dequeue(pollCtx, w.dequeueTimeout)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			continue
		case err != nil:
			logger.Error("failed to dequeue task", "error", err)
			w.pause(pollCtx)
			continue
		case task == nil:
			continue
		}

		w.handle(taskCtx, task, logger)
	}
}

// pause waits out the error backoff unless the worker is stopping.
func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.errorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) handle(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With(
		"task_id", task.ID,
		"kind", task.Kind,
		"user_id", task.UserID,
		"integration_type", task.Integration,
		"attempt", task.Attempts,
	)
	start := time.Now()

	err := w.run(ctx, task)
	if err != nil {
		w.failed.Add(1)
		logger.Error("task failed", "duration", time.Since(start), "error", err)
		if nackErr := w.queue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "error", nackErr)
		}
		return
	}

	w.processed.Add(1)
	logger.Info("task completed", "duration", time.Since(start))
	if ackErr := w.queue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "error", ackErr)
	}
}

func (w *Worker) run(ctx context.Context, task *domain.Task) error {
	if task.Kind != domain.TaskFetchMetrics {
		return fmt.Errorf("unknown task kind: %q", task.Kind)
	}
	if !task.Integration.IsValid() {
		return fmt.Errorf("invalid integration type %q", task.Integration)
	}
	if task.UserID == "" {
		return errors.New("task has no user")
	}

	err := w.metrics.FetchAttempt(ctx, task)
	if errors.Is(err, domain.ErrNotFound) {
		// Disconnected after the task was queued.
		w.logger.Info("integration gone, dropping fetch", "task_id", task.ID)
		return nil
	}
	return err
}

// Health is the worker's view of itself and its queue.
type Health struct {
	Running     bool               `json:"running"`
	QueueHealth bool               `json:"queue_health"`
	Queue       *driven.QueueStats `json:"queue,omitempty"`
	Processed   int64              `json:"processed"`
	Failed      int64              `json:"failed"`
	Error       string             `json:"error,omitempty"`
}

// Health pings the queue and reports counters.
func (w *Worker) Health(ctx context.Context) Health {
	h := Health{
		Running:   w.Running(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
	if err := w.queue.Ping(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.QueueHealth = true
	if stats, err := w.queue.Stats(ctx); err == nil {
		h.Queue = &stats
	}
	return h
}
