package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/broadcast"
	"github.com/aura-live/publisher/internal/credentials"
	"github.com/aura-live/publisher/internal/encoder"
	"github.com/aura-live/publisher/internal/events"
	"github.com/aura-live/publisher/internal/metrics"
	"github.com/aura-live/publisher/internal/models"
	"github.com/aura-live/publisher/internal/upload"
	"github.com/aura-live/publisher/internal/youtube"
)

// finalizeTimeout bounds persistence and archiving after a run, which may
// happen after the run context was cancelled.
const finalizeTimeout = 30 * time.Second

// RunStore persists run history. *runs.Repository implements it.
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	UpdateState(ctx context.Context, id uuid.UUID, state, streamID, broadcastID string) error
	Finish(ctx context.Context, run *models.Run) error
}

// Archiver copies finished runs to long-term storage. *storage.Archive implements it.
type Archiver interface {
	ArchiveReport(ctx context.Context, runID string, v any) (string, error)
	ArchiveMedia(ctx context.Context, runID, sourcePath, contentType string) (string, error)
	ArchivesMedia() bool
}

// EventPublisher fans out run events. *events.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event)
}

// Options carries the optional collaborators of a Runner. Nil fields disable
// the matching feature.
type Options struct {
	HTTPClient *http.Client
	Store      RunStore
	Archive    Archiver
	Events     EventPublisher
	Metrics    *metrics.Metrics
	Out        io.Writer
	Logger     *zap.Logger
}

// Runner executes one stream or upload end to end: credentials, platform
// calls, the encoder or upload driver, then history, archive and events.
type Runner struct {
	cfg     *config.Config
	http    *http.Client
	store   RunStore
	archive Archiver
	events  EventPublisher
	metrics *metrics.Metrics
	out     io.Writer
	log     *zap.Logger
	now     func() time.Time

	// Encoder replaces the ffmpeg supervisor when set.
	Encoder broadcast.Supervisor
	// UploadConfig overrides retry timing of the upload driver when set.
	UploadConfig *upload.Config
}

// New creates a runner.
func New(cfg *config.Config, opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		cfg:     cfg,
		http:    opts.HTTPClient,
		store:   opts.Store,
		archive: opts.Archive,
		events:  opts.Events,
		metrics: opts.Metrics,
		out:     out,
		log:     log,
		now:     time.Now,
	}
}

// StreamResult is the outcome of a live run.
type StreamResult struct {
	Run    *models.Run
	Report broadcast.Report
}

// UploadResult is the outcome of an upload run.
type UploadResult struct {
	Run     *models.Run
	VideoID string
}

func (r *Runner) platform(scope string) (*credentials.Refresher, *youtube.Client) {
	yt := r.cfg.YouTube
	refresher := credentials.NewRefresher(credentials.Credentials{
		ClientID:     yt.ClientID,
		ClientSecret: yt.ClientSecret,
		RefreshToken: yt.RefreshToken,
		TokenURL:     yt.TokenURL,
		Scopes:       []string{scope},
	}, r.http, r.log)
	client := youtube.NewClient(youtube.ClientConfig{
		BaseURL:           yt.APIBaseURL,
		HTTPClient:        r.http,
		RequestsPerSecond: yt.RequestsPerSecond,
	}, refresher, r.log)
	return refresher, client
}

func (r *Runner) supervisor() broadcast.Supervisor {
	if r.Encoder != nil {
		return r.Encoder
	}
	return encoder.NewSupervisor(encoder.Config{
		FFmpegPath:   r.cfg.Encoder.FFmpegPath,
		StallTimeout: r.cfg.Encoder.StallTimeout,
	}, r.log)
}

// Stream provisions a broadcast and pushes sourcePath to it for hours.
// The returned error is non-nil only for setup failures; encoder outcomes
// are reported in the result.
func (r *Runner) Stream(ctx context.Context, sourcePath string, hours float64) (*StreamResult, error) {
	if err := r.cfg.YouTube.Validate(); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = r.cfg.Metadata.DurationHours
	}
	now := r.now().UTC()
	run := &models.Run{
		ID:            uuid.New(),
		Kind:          models.RunKindStream,
		SourcePath:    sourcePath,
		DurationHours: hours,
		Status:        models.RunStatusRunning,
		State:         string(broadcast.StateUnauthenticated),
		StartedAt:     now,
	}
	log := r.log.With(zap.String("run_id", run.ID.String()), zap.String("kind", run.Kind))
	r.create(ctx, log, run)

	refresher, client := r.platform(credentials.ScopeYouTube)
	orch := broadcast.New(refresher, client, r.supervisor(), r.metrics, r.out, log)
	orch.OnTransition = func(ctx context.Context, t broadcast.Transition) {
		r.publish(ctx, events.Event{
			RunID:       t.RunID,
			Kind:        events.KindTransition,
			From:        string(t.From),
			To:          string(t.To),
			StreamID:    t.StreamID,
			BroadcastID: t.BroadcastID,
			At:          t.At,
		})
		if r.store != nil {
			if err := r.store.UpdateState(ctx, run.ID, string(t.To), t.StreamID, t.BroadcastID); err != nil {
				log.Warn("persist state failed", zap.String("state", string(t.To)), zap.Error(err))
			}
		}
	}

	rep, runErr := orch.Run(ctx, broadcast.Request{
		RunID:      run.ID.String(),
		SourcePath: sourcePath,
		Duration:   config.HoursToDuration(hours),
		Metadata:   r.cfg.Metadata.StreamMetadata(now),
	})

	run.State = string(rep.State)
	run.StreamID = rep.StreamID
	run.BroadcastID = rep.BroadcastID
	run.WatchURL = rep.WatchURL
	run.Reason = string(rep.Reason)
	if rep.State == broadcast.StateFinished {
		code := rep.ExitCode
		run.ExitCode = &code
	}
	r.finish(ctx, log, run, runErr)
	return &StreamResult{Run: run, Report: rep}, runErr
}

// Upload sends sourcePath as an on-demand video.
func (r *Runner) Upload(ctx context.Context, sourcePath string) (*UploadResult, error) {
	if err := r.cfg.YouTube.Validate(); err != nil {
		return nil, err
	}
	if err := config.ValidatePrivacy(r.cfg.Metadata.Privacy); err != nil {
		return nil, err
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("upload: source: %w", err)
	}
	now := r.now().UTC()
	run := &models.Run{
		ID:         uuid.New(),
		Kind:       models.RunKindUpload,
		SourcePath: sourcePath,
		Status:     models.RunStatusRunning,
		StartedAt:  now,
	}
	log := r.log.With(zap.String("run_id", run.ID.String()), zap.String("kind", run.Kind))
	r.create(ctx, log, run)

	refresher, client := r.platform(credentials.ScopeYouTubeUpload)
	r.printf("Preparing credentials...")
	if _, err := refresher.Token(ctx); err != nil {
		err = fmt.Errorf("upload: authenticate: %w", err)
		r.finish(ctx, log, run, err)
		return &UploadResult{Run: run}, err
	}

	cfg := upload.Config{
		ChunkSize:  int64(r.cfg.Upload.ChunkSizeMB) << 20,
		MaxRetries: r.cfg.Upload.MaxRetries,
	}
	if r.UploadConfig != nil {
		cfg = *r.UploadConfig
	}
	driver := upload.NewDriver(client, cfg, r.metrics, log)
	lastPct := -1
	driver.OnProgress = func(committed, total int64) {
		pct := 100
		if total > 0 {
			pct = int(committed * 100 / total)
		}
		if pct != lastPct {
			lastPct = pct
			r.printf("Upload progress: %d%%", pct)
		}
		r.publish(ctx, events.Event{RunID: run.ID.String(), Kind: events.KindProgress, Committed: committed, Total: total})
	}

	meta := r.cfg.Metadata.UploadMetadata(now)
	r.printf("Uploading '%s' with title: %s", sourcePath, meta.Title)
	videoID, err := driver.Upload(ctx, sourcePath, youtube.VideoMetadata{
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        meta.Tags,
		CategoryID:  meta.CategoryID,
		Privacy:     meta.Privacy,
	})
	if err != nil {
		var ue *upload.UploadError
		if errors.As(err, &ue) {
			run.Reason = string(ue.Reason)
		}
		r.finish(ctx, log, run, err)
		return &UploadResult{Run: run}, err
	}

	run.VideoID = videoID
	run.WatchURL = youtube.WatchURL(videoID)
	run.State = string(upload.StatusComplete)
	r.printf("Upload complete. Video ID: %s", videoID)
	r.printf("View at: %s", run.WatchURL)
	r.finish(ctx, log, run, nil)
	return &UploadResult{Run: run, VideoID: videoID}, nil
}

func (r *Runner) create(ctx context.Context, log *zap.Logger, run *models.Run) {
	if r.store == nil {
		return
	}
	if err := r.store.Create(ctx, run); err != nil {
		log.Warn("persist run failed", zap.Error(err))
	}
}

// finish stamps the outcome, archives, persists and announces the run. It runs
// on a context detached from ctx so an interrupted run is still recorded.
func (r *Runner) finish(ctx context.Context, log *zap.Logger, run *models.Run, runErr error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	done := r.now().UTC()
	run.FinishedAt = &done
	run.Status = models.RunStatusSucceeded
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
	}

	if r.archive != nil {
		if run.Status == models.RunStatusSucceeded && run.Kind == models.RunKindUpload && r.archive.ArchivesMedia() {
			if _, err := r.archive.ArchiveMedia(fctx, run.ID.String(), run.SourcePath, upload.ContentType(run.SourcePath)); err != nil {
				log.Warn("archive media failed", zap.Error(err))
			}
		}
		url, err := r.archive.ArchiveReport(fctx, run.ID.String(), run)
		if err != nil {
			log.Warn("archive report failed", zap.Error(err))
		} else {
			run.ArchiveURL = url
		}
	}

	if r.store != nil {
		if err := r.store.Finish(fctx, run); err != nil {
			log.Warn("persist outcome failed", zap.Error(err))
		}
	}

	r.publish(fctx, events.Event{
		RunID:       run.ID.String(),
		Kind:        events.KindFinished,
		To:          run.State,
		StreamID:    run.StreamID,
		BroadcastID: run.BroadcastID,
		VideoID:     run.VideoID,
		Message:     run.Status,
		At:          done,
	})
	log.Info("run finished",
		zap.String("status", run.Status),
		zap.String("reason", run.Reason),
		zap.String("watch_url", run.WatchURL),
		zap.Duration("elapsed", done.Sub(run.StartedAt)))
}

func (r *Runner) publish(ctx context.Context, e events.Event) {
	if r.events != nil {
		r.events.Publish(ctx, e)
	}
}

func (r *Runner) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, "[upload] "+format+"\n", args...)
}
