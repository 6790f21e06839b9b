package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/credentials"
	"github.com/aura-live/publisher/internal/models"
	"github.com/aura-live/publisher/internal/runner"
	"github.com/aura-live/publisher/internal/upload"
	"github.com/aura-live/publisher/internal/youtube"
	"github.com/aura-live/publisher/pkg/queue"
)

type fakeExec struct {
	streamErr    error
	streamPartID string
	uploadErr    error
	streams      []string
	uploads      []string
	hours        []float64
}

func (f *fakeExec) Stream(_ context.Context, path string, hours float64) (*runner.StreamResult, error) {
	f.streams = append(f.streams, path)
	f.hours = append(f.hours, hours)
	run := &models.Run{ID: uuid.New(), Kind: models.RunKindStream, StreamID: f.streamPartID}
	return &runner.StreamResult{Run: run}, f.streamErr
}

func (f *fakeExec) Upload(_ context.Context, path string) (*runner.UploadResult, error) {
	f.uploads = append(f.uploads, path)
	if f.uploadErr != nil {
		return &runner.UploadResult{Run: &models.Run{ID: uuid.New()}}, f.uploadErr
	}
	return &runner.UploadResult{Run: &models.Run{ID: uuid.New()}, VideoID: "v1"}, nil
}

type fakeQueue struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
	dead    []*queue.Job
	onEmpty func()
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		if q.onEmpty != nil {
			q.onEmpty()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()
	return job, nil
}

func (q *fakeQueue) Retry(_ context.Context, job *queue.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	if job.Attempt >= queue.MaxRetries {
		q.dead = append(q.dead, job)
		return true, nil
	}
	q.retried = append(q.retried, job)
	return false, nil
}

func (q *fakeQueue) DeadLetter(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, job)
	return nil
}

type jobCounter struct {
	outcomes []string
}

func (c *jobCounter) JobProcessed(jobType, outcome string) {
	c.outcomes = append(c.outcomes, jobType+"/"+outcome)
}

func newJob(t *testing.T, typ queue.JobType, payload any) *queue.Job {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: typ, Payload: raw, CreatedAt: time.Now()}
}

func TestProcessDispatchesByType(t *testing.T) {
	exec := &fakeExec{}
	p := NewProcessor(exec, &fakeQueue{}, nil, zap.NewNop())

	require.NoError(t, p.Process(context.Background(), newJob(t, queue.JobTypeStream, queue.StreamPayload{VideoPath: "/a.mp4", DurationHours: 1.5})))
	require.NoError(t, p.Process(context.Background(), newJob(t, queue.JobTypeUpload, queue.UploadPayload{VideoPath: "/b.mp4"})))

	assert.Equal(t, []string{"/a.mp4"}, exec.streams)
	assert.Equal(t, []float64{1.5}, exec.hours)
	assert.Equal(t, []string{"/b.mp4"}, exec.uploads)
}

func TestProcessRejectsUnknownType(t *testing.T) {
	p := NewProcessor(&fakeExec{}, &fakeQueue{}, nil, zap.NewNop())
	err := p.Process(context.Background(), &queue.Job{ID: "1", Type: "transcode"})
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("connection reset"), true},
		{"config", &config.Error{Key: "YT_PRIVACY_STATUS", Reason: "bad"}, false},
		{"auth", fmt.Errorf("wrap: %w", &credentials.AuthError{StatusCode: 400, Err: errors.New("invalid_grant")}), false},
		{"missing file", fmt.Errorf("source: %w", os.ErrNotExist), false},
		{"remote 503", &youtube.RemoteError{Op: "liveStreams.insert", StatusCode: 503}, true},
		{"remote 403", &youtube.RemoteError{Op: "liveStreams.insert", StatusCode: 403}, false},
		{"upload expired", &upload.UploadError{Reason: upload.ReasonSessionExpired}, true},
		{"upload exhausted", &upload.UploadError{Reason: upload.ReasonRetriesExhausted}, true},
		{"upload remote", &upload.UploadError{Reason: upload.ReasonRemoteError}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestHandleRoutesFailures(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		q, m := &fakeQueue{}, &jobCounter{}
		p := NewProcessor(&fakeExec{}, q, m, zap.NewNop())
		assert.False(t, p.handle(context.Background(), newJob(t, queue.JobTypeUpload, queue.UploadPayload{VideoPath: "/x"})))
		assert.Equal(t, []string{"upload/succeeded"}, m.outcomes)
	})

	t.Run("transient is retried", func(t *testing.T) {
		q, m := &fakeQueue{}, &jobCounter{}
		exec := &fakeExec{uploadErr: &upload.UploadError{Reason: upload.ReasonRetriesExhausted}}
		p := NewProcessor(exec, q, m, zap.NewNop())
		assert.True(t, p.handle(context.Background(), newJob(t, queue.JobTypeUpload, queue.UploadPayload{VideoPath: "/x"})))
		assert.Len(t, q.retried, 1)
		assert.Empty(t, q.dead)
		assert.Equal(t, []string{"upload/retried"}, m.outcomes)
	})

	t.Run("permanent goes to dlq", func(t *testing.T) {
		q, m := &fakeQueue{}, &jobCounter{}
		exec := &fakeExec{uploadErr: &credentials.AuthError{Err: errors.New("invalid_grant")}}
		p := NewProcessor(exec, q, m, zap.NewNop())
		p.handle(context.Background(), newJob(t, queue.JobTypeUpload, queue.UploadPayload{VideoPath: "/x"}))
		assert.Empty(t, q.retried)
		assert.Len(t, q.dead, 1)
		assert.Equal(t, []string{"upload/dead_lettered"}, m.outcomes)
	})

	t.Run("partial stream is not retried", func(t *testing.T) {
		q := &fakeQueue{}
		exec := &fakeExec{
			streamErr:    &youtube.RemoteError{Op: "liveBroadcasts.insert", StatusCode: 503},
			streamPartID: "s1",
		}
		p := NewProcessor(exec, q, nil, zap.NewNop())
		p.handle(context.Background(), newJob(t, queue.JobTypeStream, queue.StreamPayload{VideoPath: "/x", DurationHours: 1}))
		assert.Empty(t, q.retried)
		assert.Len(t, q.dead, 1)
	})

	t.Run("partial stream cut by shutdown is not retried", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		q, m := &fakeQueue{}, &jobCounter{}
		exec := &fakeExec{streamErr: fmt.Errorf("broadcast: bind: %w", context.Canceled), streamPartID: "s1"}
		p := NewProcessor(exec, q, m, zap.NewNop())
		job := newJob(t, queue.JobTypeStream, queue.StreamPayload{VideoPath: "/x", DurationHours: 1})
		assert.True(t, p.handle(ctx, job))
		assert.Empty(t, q.retried)
		require.Len(t, q.dead, 1)
		assert.Equal(t, 0, q.dead[0].Attempt)
		assert.Equal(t, []string{"stream/dead_lettered"}, m.outcomes)
	})

	t.Run("shutdown before remote objects requeues without an attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		q, m := &fakeQueue{}, &jobCounter{}
		exec := &fakeExec{streamErr: fmt.Errorf("broadcast: authenticate: %w", context.Canceled)}
		p := NewProcessor(exec, q, m, zap.NewNop())
		job := newJob(t, queue.JobTypeStream, queue.StreamPayload{VideoPath: "/x", DurationHours: 1})
		job.Attempt = 1
		p.handle(ctx, job)
		assert.Empty(t, q.dead)
		require.Len(t, q.retried, 1)
		assert.Equal(t, 1, q.retried[0].Attempt)
		assert.Equal(t, []string{"stream/retried"}, m.outcomes)
	})

	t.Run("last attempt is dead-lettered", func(t *testing.T) {
		q, m := &fakeQueue{}, &jobCounter{}
		exec := &fakeExec{uploadErr: errors.New("connection reset")}
		p := NewProcessor(exec, q, m, zap.NewNop())
		job := newJob(t, queue.JobTypeUpload, queue.UploadPayload{VideoPath: "/x"})
		job.Attempt = queue.MaxRetries - 1
		p.handle(context.Background(), job)
		assert.Len(t, q.dead, 1)
		assert.Equal(t, []string{"upload/dead_lettered"}, m.outcomes)
	})
}

func TestRunDrainsQueueUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &fakeExec{}
	q := &fakeQueue{
		pending: []*queue.Job{
			newJob(t, queue.JobTypeStream, queue.StreamPayload{VideoPath: "/a.mp4", DurationHours: 2}),
			newJob(t, queue.JobTypeUpload, queue.UploadPayload{VideoPath: "/b.mp4"}),
		},
		onEmpty: cancel,
	}
	p := NewProcessor(exec, q, nil, zap.NewNop())
	p.Backoff = time.Millisecond

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.Equal(t, []string{"/a.mp4"}, exec.streams)
	assert.Equal(t, []string{"/b.mp4"}, exec.uploads)
}
