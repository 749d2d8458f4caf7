package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

func newTestQueue(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := NewQueue(client, "worker-test", nil)
	require.NoError(t, err)
	return mr, q
}

func TestNewQueue_RequiresClient(t *testing.T) {
	_, err := NewQueue(nil, "", nil)
	assert.Error(t, err)
}

func TestNewQueue_GroupAlreadyExists(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewQueue(client, "a", nil)
	require.NoError(t, err)
	_, err = NewQueue(client, "b", nil)
	assert.NoError(t, err)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	task := domain.NewFetchMetricsTask("user-1", domain.IntegrationXero)
	require.NoError(t, q.Enqueue(ctx, task))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queued)

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, domain.IntegrationXero, got.Integration)
	assert.Equal(t, domain.TaskRunning, got.State)
	assert.Equal(t, 1, got.Attempts)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Queued)
	assert.Equal(t, int64(1), stats.Running)

	require.NoError(t, q.Ack(ctx, task.ID))

	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDone, stored.State)
	assert.NotNil(t, stored.FinishedAt)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Running)
	assert.Equal(t, int64(1), stats.Done)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	_, q := newTestQueue(t)

	got, err := q.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_FutureTaskWaitsInDelayedSet(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	task := domain.NewFetchMetricsTask("user-1", domain.IntegrationSlack)
	task.NotBefore = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	members, err := mr.ZMembers(delayedKey)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, members)

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, got, "a future task must not be delivered")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Queued)
}

func TestQueue_NackRetriesThenDies(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	task := domain.NewFetchMetricsTask("user-1", domain.IntegrationStripe)
	task.MaxAttempts = 2
	require.NoError(t, q.Enqueue(ctx, task))

	_, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, task.ID, "provider down"))

	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskQueued, stored.State)
	assert.Equal(t, "provider down", stored.LastError)
	assert.True(t, stored.NotBefore.After(time.Now()))

	members, err := mr.ZMembers(delayedKey)
	require.NoError(t, err)
	assert.Contains(t, members, task.ID)

	// Bring the retry due; the next dequeue promotes and delivers it.
	_, err = mr.ZAdd(delayedKey, 0, task.ID)
	require.NoError(t, err)

	again, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempts)

	require.NoError(t, q.Nack(ctx, task.ID, "still down"))

	stored, err = q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDead, stored.State)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Dead)
	assert.Equal(t, int64(0), stats.Queued)
}

func TestQueue_FailedPromotionKeepsTaskParked(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()
	var logs bytes.Buffer
	q.logger = slog.New(slog.NewTextHandler(&logs, nil))

	task := domain.NewFetchMetricsTask("user-1", domain.IntegrationXero)
	task.NotBefore = time.Now().Add(-time.Second)
	require.NoError(t, q.client.HSet(ctx, taskKey(task.ID), "body", mustJSON(t, task)).Err())
	_, err := mr.ZAdd(delayedKey, 0, task.ID)
	require.NoError(t, err)

	// A stream key of the wrong type makes every XADD fail.
	mr.Del(streamKey)
	require.NoError(t, mr.Set(streamKey, "not a stream"))

	_, err = q.Dequeue(ctx, 0)
	require.Error(t, err)
	assert.Contains(t, logs.String(), "failed to promote delayed tasks")

	members, err := mr.ZMembers(delayedKey)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, members, "a task that failed to publish must stay parked")

	mr.Del(streamKey)
	require.NoError(t, q.client.XGroupCreateMkStream(ctx, streamKey, groupName, "0").Err())

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Zero(t, q.client.ZCard(ctx, delayedKey).Val(), "a published task leaves the delayed set")
}

func TestQueue_PromotePublishesOnce(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	_, err := mr.ZAdd(delayedKey, 0, "task-1")
	require.NoError(t, err)
	require.NoError(t, q.promote(ctx))
	require.NoError(t, q.promote(ctx))

	length, err := q.client.XLen(ctx, streamKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func TestQueue_UnknownTask(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, q.Ack(ctx, "missing"), domain.ErrNotFound)
	assert.ErrorIs(t, q.Nack(ctx, "missing", "x"), domain.ErrNotFound)
}

func TestQueue_DropsMessagesForExpiredTasks(t *testing.T) {
	mr, q := newTestQueue(t)
	ctx := context.Background()

	task := domain.NewFetchMetricsTask("user-1", domain.IntegrationZoho)
	require.NoError(t, q.Enqueue(ctx, task))
	mr.Del(taskKey(task.ID))

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_TaskBodiesExpire(t *testing.T) {
	mr, q := newTestQueue(t)

	task := domain.NewFetchMetricsTask("user-1", domain.IntegrationAsana)
	require.NoError(t, q.Enqueue(context.Background(), task))

	assert.Equal(t, taskTTL, mr.TTL(taskKey(task.ID)))
}

func TestQueue_Ping(t *testing.T) {
	_, q := newTestQueue(t)

	assert.NoError(t, q.Ping(context.Background()))
}
