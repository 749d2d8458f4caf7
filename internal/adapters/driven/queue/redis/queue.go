// Package redis implements the task queue on Redis streams.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	streamKey  = "integrations:fetch:stream"
	groupName  = "integrations:fetch:workers"
	delayedKey = "integrations:fetch:delayed"
	countsKey  = "integrations:fetch:counts"
	taskPrefix = "integrations:fetch:task:"

	// A message unacked for this long belongs to a dead consumer.
	reclaimAfter = 5 * time.Minute

	taskTTL = 24 * time.Hour
)

var _ driven.TaskQueue = (*Queue)(nil)

// Queue is a TaskQueue on a Redis stream with one consumer group. Each task
// body lives in its own hash next to the ID of the message carrying it;
// backed-off tasks wait in a sorted set scored by their NotBefore.
type Queue struct {
	client   *redis.Client
	consumer string
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueue creates the consumer group if needed. consumer must be unique
// per process.
func NewQueue(client *redis.Client, consumer string, logger *slog.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumer == "" {
		consumer = "worker-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	err := client.XGroupCreateMkStream(context.Background(), streamKey, groupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{client: client, consumer: consumer, logger: logger, now: time.Now}, nil
}

func taskKey(id string) string { return taskPrefix + id }

// Enqueue stores the task and publishes it, or parks it until it is due.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, taskKey(task.ID), "body", body)
	pipe.Expire(ctx, taskKey(task.ID), taskTTL)
	if task.Due(q.now()) {
		pipe.XAdd(ctx, publish(task.ID))
	} else {
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(task.NotBefore.UnixMilli()), Member: task.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Dequeue promotes due delayed tasks, takes over messages abandoned by dead
// consumers, then reads a new message. A non-positive wait does not block.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*domain.Task, error) {
	if err := q.promote(ctx); err != nil && ctx.Err() == nil {
		// Parked tasks stay in the delayed set for the next call.
		q.logger.Warn("failed to promote delayed tasks", "error", err)
	}
	if task := q.reclaim(ctx); task != nil {
		return task, nil
	}

	block := wait
	if block <= 0 {
		block = -1
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: q.consumer,
		Streams:  []string{streamKey, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return q.claim(ctx, streams[0].Messages[0])
}

// claim starts the task a message points at. Messages whose task expired
// are discarded.
func (q *Queue) claim(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	id, _ := msg.Values["id"].(string)
	task, err := q.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		q.client.XAck(ctx, streamKey, groupName, msg.ID)
		q.client.XDel(ctx, streamKey, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.Start(q.now().UTC())
	if err := q.save(ctx, task, msg.ID); err != nil {
		return nil, err
	}
	return task, nil
}

func (q *Queue) save(ctx context.Context, task *domain.Task, msgID string) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, taskKey(task.ID), "body", body, "msg", msgID)
	pipe.Expire(ctx, taskKey(task.ID), taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// Ack marks the task done and removes its message.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, msgID, err := q.claimed(ctx, taskID)
	if err != nil {
		return err
	}
	task.Finish(q.now().UTC())

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	q.retire(ctx, pipe, taskID, msgID, body)
	pipe.HIncrBy(ctx, countsKey, string(domain.TaskDone), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return nil
}

// Nack records the failure and parks the task for its retry, or counts it
// dead once attempts run out.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, msgID, err := q.claimed(ctx, taskID)
	if err != nil {
		return err
	}
	requeued := task.Fail(q.now().UTC(), reason)

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	q.retire(ctx, pipe, taskID, msgID, body)
	if requeued {
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(task.NotBefore.UnixMilli()), Member: taskID})
	} else {
		pipe.HIncrBy(ctx, countsKey, string(domain.TaskDead), 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}
	return nil
}

// claimed loads a task with the ID of the message it was delivered by.
func (q *Queue) claimed(ctx context.Context, taskID string) (*domain.Task, string, error) {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return nil, "", err
	}
	msgID, err := q.client.HGet(ctx, taskKey(taskID), "msg").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, "", fmt.Errorf("load message id: %w", err)
	}
	return task, msgID, nil
}

func (q *Queue) retire(ctx context.Context, pipe redis.Pipeliner, taskID, msgID string, body []byte) {
	if msgID != "" {
		pipe.XAck(ctx, streamKey, groupName, msgID)
		pipe.XDel(ctx, streamKey, msgID)
	}
	pipe.HSet(ctx, taskKey(taskID), "body", body)
	pipe.HDel(ctx, taskKey(taskID), "msg")
	pipe.Expire(ctx, taskKey(taskID), taskTTL)
}

// Get returns the stored task. Tasks expire a day after their last change.
func (q *Queue) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	body, err := q.client.HGet(ctx, taskKey(taskID), "body").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	var task domain.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

// Stats derives queued and running counts from the stream and the delayed
// set. Done and dead are counters kept since the queue was first used.
func (q *Queue) Stats(ctx context.Context) (driven.QueueStats, error) {
	var stats driven.QueueStats

	length, err := q.client.XLen(ctx, streamKey).Result()
	if err != nil {
		return stats, fmt.Errorf("stream length: %w", err)
	}
	pending, err := q.client.XPending(ctx, streamKey, groupName).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return stats, fmt.Errorf("pending entries: %w", err)
	}
	if pending != nil {
		stats.Running = pending.Count
	}
	delayed, err := q.client.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return stats, fmt.Errorf("delayed count: %w", err)
	}
	stats.Queued = length - stats.Running + delayed

	counts, err := q.client.HGetAll(ctx, countsKey).Result()
	if err != nil {
		return stats, fmt.Errorf("task counters: %w", err)
	}
	stats.Done, _ = strconv.ParseInt(counts[string(domain.TaskDone)], 10, 64)
	stats.Dead, _ = strconv.ParseInt(counts[string(domain.TaskDead)], 10, 64)

	return stats, nil
}

// Ping checks the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// promoteScript publishes a parked task and only then drops it from the
// delayed set. A task already taken by another consumer is skipped.
var promoteScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('XADD', KEYS[2], '*', 'id', ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
return 1
`)

// promote publishes delayed tasks whose NotBefore has passed.
func (q *Queue) promote(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("list delayed tasks: %w", err)
	}
	for _, id := range due {
		if err := promoteScript.Run(ctx, q.client, []string{delayedKey, streamKey}, id).Err(); err != nil {
			return fmt.Errorf("promote task %s: %w", id, err)
		}
	}
	return nil
}

// reclaim takes over one message left unacked past reclaimAfter.
func (q *Queue) reclaim(ctx context.Context) *domain.Task {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey,
		Group:    groupName,
		Consumer: q.consumer,
		MinIdle:  reclaimAfter,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return nil
	}
	for _, msg := range msgs {
		if task, err := q.claim(ctx, msg); err == nil && task != nil {
			return task
		}
	}
	return nil
}

func publish(taskID string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"id": taskID},
	}
}
