package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/publisher/internal/events"
	"github.com/aura-live/publisher/internal/middleware"
	"github.com/aura-live/publisher/internal/models"
	"github.com/aura-live/publisher/internal/runs"
	"github.com/aura-live/publisher/pkg/queue"
	"github.com/aura-live/publisher/pkg/response"
)

// maxDurationHours mirrors the CLI's accepted duration range.
const maxDurationHours = 24 * 7

// RunReader reads run history. *runs.Repository implements it.
type RunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	List(ctx context.Context, limit int) ([]models.Run, error)
}

// Enqueuer queues publish jobs. *queue.Queue implements it.
type Enqueuer interface {
	EnqueueStream(ctx context.Context, payload queue.StreamPayload) (*queue.Job, error)
	EnqueueUpload(ctx context.Context, payload queue.UploadPayload) (*queue.Job, error)
	Depth(ctx context.Context) (int64, error)
}

// Subscriber tails run events. *events.Subscriber implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, runID string) (<-chan events.Event, error)
}

// ReportLinker presigns archived run reports. *storage.Archive implements it.
type ReportLinker interface {
	PresignReport(ctx context.Context, runID string, expires time.Duration) (string, error)
}

// JobRequest is the body for POST /jobs.
type JobRequest struct {
	Type          string  `json:"type" binding:"required,oneof=stream upload"`
	VideoPath     string  `json:"video_path" binding:"required"`
	DurationHours float64 `json:"duration_hours"`
}

// Handler serves the control API. Nil dependencies turn their endpoints into 503s.
type Handler struct {
	runs    RunReader
	queue   Enqueuer
	events  Subscriber
	reports ReportLinker
	logger  *zap.Logger
}

// NewHandler creates an API handler.
func NewHandler(runReader RunReader, q Enqueuer, sub Subscriber, reports ReportLinker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{runs: runReader, queue: q, events: sub, reports: reports, logger: logger}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.queue != nil {
		depth, err := h.queue.Depth(c.Request.Context())
		if err != nil {
			h.logger.Warn("queue depth unavailable", zap.Error(err))
			body["queue"] = "unavailable"
		} else {
			body["queue_depth"] = depth
		}
	}
	response.OK(c, body)
}

// ListRuns handles GET /runs?limit=N.
func (h *Handler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		response.ServiceUnavailable(c, "run history is disabled")
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.runs.List(c.Request.Context(), runs.ClampLimit(limit))
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		response.Internal(c, "failed to list runs")
		return
	}
	response.OK(c, list)
}

// GetRun handles GET /runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	if h.runs == nil {
		response.ServiceUnavailable(c, "run history is disabled")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid run id")
		return
	}
	run, err := h.runs.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			response.NotFound(c, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err), zap.String("run_id", id.String()))
		response.Internal(c, "failed to get run")
		return
	}
	response.OK(c, run)
}

// ReportURL handles GET /runs/:id/report-url.
func (h *Handler) ReportURL(c *gin.Context) {
	if h.reports == nil {
		response.ServiceUnavailable(c, "archive is disabled")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid run id")
		return
	}
	url, err := h.reports.PresignReport(c.Request.Context(), id.String(), 0)
	if err != nil {
		h.logger.Error("presign report failed", zap.Error(err), zap.String("run_id", id.String()))
		response.Internal(c, "failed to sign report url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

// Events handles GET /runs/:id/events as a server-sent event stream that ends
// after the run's finished event or when the client goes away.
func (h *Handler) Events(c *gin.Context) {
	if h.events == nil {
		response.ServiceUnavailable(c, "run events are disabled")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid run id")
		return
	}
	ctx := c.Request.Context()
	ch, err := h.events.Subscribe(ctx, id.String())
	if err != nil {
		h.logger.Warn("subscribe failed", zap.Error(err), zap.String("run_id", id.String()))
		response.ServiceUnavailable(c, "event stream unavailable")
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(e.Kind, e)
			c.Writer.Flush()
			if e.Kind == events.KindFinished {
				return
			}
		}
	}
}

// EnqueueJob handles POST /jobs.
func (h *Handler) EnqueueJob(c *gin.Context) {
	if h.queue == nil {
		response.ServiceUnavailable(c, "job queue is disabled")
		return
	}
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.DurationHours < 0 || req.DurationHours > maxDurationHours {
		response.BadRequest(c, "duration_hours out of range")
		return
	}

	ctx := c.Request.Context()
	var (
		job *queue.Job
		err error
	)
	switch queue.JobType(req.Type) {
	case queue.JobTypeStream:
		job, err = h.queue.EnqueueStream(ctx, queue.StreamPayload{VideoPath: req.VideoPath, DurationHours: req.DurationHours})
	default:
		job, err = h.queue.EnqueueUpload(ctx, queue.UploadPayload{VideoPath: req.VideoPath})
	}
	if err != nil {
		h.logger.Error("enqueue failed", zap.Error(err), zap.String("type", req.Type))
		response.Internal(c, "failed to enqueue job")
		return
	}
	h.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("type", req.Type),
		zap.String("operator", c.GetString(middleware.ContextSubject)))
	response.Accepted(c, gin.H{"job_id": job.ID, "type": job.Type})
}
