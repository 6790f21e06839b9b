package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/credentials"
	"github.com/aura-live/publisher/internal/runner"
	"github.com/aura-live/publisher/internal/upload"
	"github.com/aura-live/publisher/internal/youtube"
	"github.com/aura-live/publisher/pkg/queue"
)

// Job outcomes reported to metrics.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// Executor runs publish jobs. *runner.Runner implements it.
type Executor interface {
	Stream(ctx context.Context, sourcePath string, hours float64) (*runner.StreamResult, error)
	Upload(ctx context.Context, sourcePath string) (*runner.UploadResult, error)
}

// JobQueue is the queue surface the worker consumes. *queue.Queue implements it.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (bool, error)
	DeadLetter(ctx context.Context, job *queue.Job) error
}

// Metrics counts processed jobs. A nil Metrics is ignored.
type Metrics interface {
	JobProcessed(jobType, outcome string)
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Processor executes stream and upload jobs one at a time.
type Processor struct {
	exec    Executor
	queue   JobQueue
	metrics Metrics
	logger  *zap.Logger

	// Backoff is the pause after a failed job before the next dequeue.
	Backoff time.Duration
}

// NewProcessor creates a job processor.
func NewProcessor(exec Executor, q JobQueue, metrics Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{exec: exec, queue: q, metrics: metrics, logger: logger, Backoff: queue.RetryBackoff}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeStream:
		var payload queue.StreamPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return &permanentError{fmt.Errorf("unmarshal payload: %w", err)}
		}
		res, err := p.exec.Stream(ctx, payload.VideoPath, payload.DurationHours)
		if err != nil {
			// Remote objects already exist; a retry would create a second broadcast.
			if res != nil && res.Run != nil && res.Run.StreamID != "" {
				return &permanentError{err}
			}
			return err
		}
		p.logger.Info("stream job finished",
			zap.String("job_id", job.ID),
			zap.String("run_id", res.Run.ID.String()),
			zap.String("reason", res.Run.Reason),
			zap.String("watch_url", res.Run.WatchURL))
		return nil
	case queue.JobTypeUpload:
		var payload queue.UploadPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return &permanentError{fmt.Errorf("unmarshal payload: %w", err)}
		}
		res, err := p.exec.Upload(ctx, payload.VideoPath)
		if err != nil {
			return err
		}
		p.logger.Info("upload job finished",
			zap.String("job_id", job.ID),
			zap.String("run_id", res.Run.ID.String()),
			zap.String("video_id", res.VideoID))
		return nil
	default:
		return &permanentError{fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// Retryable reports whether a failed job may be re-enqueued.
func Retryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return false
	}
	var authErr *credentials.AuthError
	if errors.As(err, &authErr) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	var ue *upload.UploadError
	if errors.As(err, &ue) {
		return ue.Reason != upload.ReasonRemoteError
	}
	var re *youtube.RemoteError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	return true
}

// handle processes job and routes failures to retry or the DLQ. It reports
// whether the job failed.
func (p *Processor) handle(ctx context.Context, job *queue.Job) bool {
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
	log.Info("processing job")

	err := p.Process(ctx, job)
	if err == nil {
		p.record(job, OutcomeSucceeded)
		return false
	}
	retryCtx := context.WithoutCancel(ctx)
	var perm *permanentError
	permanent := errors.As(err, &perm)
	switch {
	case permanent:
		// Never requeued, even on shutdown: the job may have created remote objects.
		log.Error("job failed permanently", zap.Error(err))
	case ctx.Err() != nil:
		// Shutdown interrupted the job; hand it back untouched by the attempt count.
		log.Warn("job interrupted by shutdown", zap.Error(err))
		job.Attempt--
	default:
		log.Error("job failed", zap.Error(err))
	}

	if permanent || (!Retryable(err) && ctx.Err() == nil) {
		if dlqErr := p.queue.DeadLetter(retryCtx, job); dlqErr != nil {
			log.Error("dead-letter failed", zap.Error(dlqErr))
		}
		p.record(job, OutcomeDeadLettered)
		return true
	}
	dead, reErr := p.queue.Retry(retryCtx, job)
	if reErr != nil {
		log.Error("retry enqueue failed", zap.Error(reErr))
	}
	if dead {
		p.record(job, OutcomeDeadLettered)
	} else {
		p.record(job, OutcomeRetried)
	}
	return true
}

func (p *Processor) record(job *queue.Job, outcome string) {
	if p.metrics != nil {
		p.metrics.JobProcessed(string(job.Type), outcome)
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("publish worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publish worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		if failed := p.handle(ctx, job); failed {
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	if p.Backoff <= 0 {
		return
	}
	t := time.NewTimer(p.Backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
