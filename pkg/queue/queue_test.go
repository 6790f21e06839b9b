package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memList is an in-memory stand-in for the Redis list commands the queue uses.
type memList struct {
	lists   map[string][]string
	pushErr error
}

func newMemList() *memList { return &memList{lists: map[string][]string{}} }

func (m *memList) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if m.pushErr != nil {
		return redis.NewIntResult(0, m.pushErr)
	}
	for _, v := range values {
		switch s := v.(type) {
		case []byte:
			m.lists[key] = append(m.lists[key], string(s))
		case string:
			m.lists[key] = append(m.lists[key], s)
		}
	}
	return redis.NewIntResult(int64(len(m.lists[key])), nil)
}

func (m *memList) BLPop(_ context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	for _, k := range keys {
		if l := m.lists[k]; len(l) > 0 {
			m.lists[k] = l[1:]
			return redis.NewStringSliceResult([]string{k, l[0]}, nil)
		}
	}
	return redis.NewStringSliceResult(nil, redis.Nil)
}

func (m *memList) LLen(_ context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(m.lists[key])), nil)
}

func newTestQueue() (*Queue, *memList) {
	m := newMemList()
	return &Queue{client: m, logger: zap.NewNop()}, m
}

func TestEnqueueAndDequeueStream(t *testing.T) {
	q, _ := newTestQueue()
	ctx := context.Background()

	job, err := q.EnqueueStream(ctx, StreamPayload{VideoPath: "/media/a.mp4", DurationHours: 2})
	require.NoError(t, err)
	assert.Equal(t, JobTypeStream, job.Type)
	assert.NotEmpty(t, job.ID)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	var p StreamPayload
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, "/media/a.mp4", p.VideoPath)
	assert.Equal(t, 2.0, p.DurationHours)
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q, _ := newTestQueue()
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeueSkipsInvalidEntry(t *testing.T) {
	q, m := newTestQueue()
	m.lists[QueueJobs] = []string{"{garbage"}
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryThenDeadLetter(t *testing.T) {
	q, m := newTestQueue()
	ctx := context.Background()
	job, err := q.EnqueueUpload(ctx, UploadPayload{VideoPath: "/media/v.mp4"})
	require.NoError(t, err)
	_, _ = q.Dequeue(ctx)

	for i := 1; i < MaxRetries; i++ {
		dead, err := q.Retry(ctx, job)
		require.NoError(t, err)
		assert.False(t, dead)
		assert.Equal(t, i, job.Attempt)
		_, _ = q.Dequeue(ctx)
	}
	dead, err := q.Retry(ctx, job)
	require.NoError(t, err)
	assert.True(t, dead)
	assert.Len(t, m.lists[QueueDLQ], 1)
	assert.Empty(t, m.lists[QueueJobs])
}

func TestDeadLetterDirect(t *testing.T) {
	q, m := newTestQueue()
	require.NoError(t, q.DeadLetter(context.Background(), &Job{ID: "j1", Type: JobTypeStream}))
	assert.Len(t, m.lists[QueueDLQ], 1)
}

func TestEnqueuePushError(t *testing.T) {
	q, m := newTestQueue()
	m.pushErr = errors.New("redis down")
	_, err := q.EnqueueStream(context.Background(), StreamPayload{VideoPath: "x"})
	assert.Error(t, err)
}
