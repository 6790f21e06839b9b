package broadcast

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/encoder"
	"github.com/aura-live/publisher/internal/youtube"
)

// State is a step of the live broadcast lifecycle. States are entered in
// declaration order and never skipped.
type State string

const (
	StateUnauthenticated  State = "unauthenticated"
	StateAuthenticated    State = "authenticated"
	StateStreamCreated    State = "stream_created"
	StateBroadcastCreated State = "broadcast_created"
	StateBound            State = "bound"
	StateStreaming        State = "streaming"
	StateFinished         State = "finished"
)

// Platform is the live subset of the Data API.
type Platform interface {
	CreateLiveStream(ctx context.Context, req youtube.StreamRequest) (youtube.StreamDescriptor, error)
	CreateLiveBroadcast(ctx context.Context, b youtube.BroadcastDescriptor) (string, error)
	BindBroadcast(ctx context.Context, broadcastID, streamID string) error
}

// Authenticator yields an access token before the first remote call.
type Authenticator interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Supervisor pushes media to an ingest URL until it stops for any reason.
type Supervisor interface {
	Run(ctx context.Context, ingestURL, sourcePath string, duration time.Duration) (encoder.Result, error)
}

// Metrics receives lifecycle counters. A nil Metrics disables them.
type Metrics interface {
	Transition(state string)
	StreamStarted()
	StreamFinished(reason string)
}

// Transition is emitted every time the orchestrator enters a new state.
type Transition struct {
	RunID       string    `json:"run_id"`
	From        State     `json:"from"`
	To          State     `json:"to"`
	StreamID    string    `json:"stream_id,omitempty"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	At          time.Time `json:"at"`
}

// Request is one live run.
type Request struct {
	RunID      string
	SourcePath string
	Duration   time.Duration
	Metadata   config.Metadata
}

// Report is what the orchestrator created and how streaming ended. It is
// returned on every path, carrying whatever IDs exist at that point.
type Report struct {
	RunID       string         `json:"run_id"`
	State       State          `json:"state"`
	StreamID    string         `json:"stream_id,omitempty"`
	BroadcastID string         `json:"broadcast_id,omitempty"`
	IngestURL   string         `json:"-"`
	WatchURL    string         `json:"watch_url,omitempty"`
	Reason      encoder.Reason `json:"reason,omitempty"`
	ExitCode    int            `json:"exit_code"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// Orchestrator drives one broadcast from credentials to finished stream.
type Orchestrator struct {
	auth       Authenticator
	platform   Platform
	supervisor Supervisor
	metrics    Metrics
	log        *zap.Logger
	out        io.Writer
	now        func() time.Time

	// OnTransition, when set, is called synchronously on every state change.
	OnTransition func(ctx context.Context, t Transition)
}

// New creates an orchestrator. out receives human-readable progress lines
// and may be nil.
func New(auth Authenticator, platform Platform, supervisor Supervisor, metrics Metrics, out io.Writer, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Orchestrator{
		auth:       auth,
		platform:   platform,
		supervisor: supervisor,
		metrics:    metrics,
		log:        log,
		out:        out,
		now:        time.Now,
	}
}

// Run walks the lifecycle for req. Setup failures return the partial report
// and an error prefixed with the failing step; nothing created is rolled back.
// Once streaming has begun the run always finishes without error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Report, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	rep := Report{RunID: req.RunID, State: StateUnauthenticated, ExitCode: -1, StartedAt: o.now().UTC()}
	log := o.log.With(zap.String("run_id", req.RunID))

	if err := config.ValidatePrivacy(req.Metadata.Privacy); err != nil {
		return o.abort(rep), err
	}
	if req.Duration <= 0 {
		return o.abort(rep), &config.Error{Key: "YT_DURATION_HOURS", Reason: "must be positive"}
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		return o.abort(rep), fmt.Errorf("broadcast: source: %w", err)
	}

	o.printf("Preparing credentials...")
	if _, err := o.auth.Token(ctx); err != nil {
		return o.abort(rep), fmt.Errorf("broadcast: authenticate: %w", err)
	}
	o.enter(ctx, &rep, StateAuthenticated)

	o.printf("Creating live stream...")
	stream, err := o.platform.CreateLiveStream(ctx, youtube.StreamRequest{
		Title:         "Stream for " + req.Metadata.Title,
		Format:        youtube.FormatHD1080,
		IngestionType: youtube.IngestionRTMP,
	})
	if err != nil {
		return o.abort(rep), fmt.Errorf("broadcast: create stream: %w", err)
	}
	rep.StreamID = stream.StreamID
	rep.IngestURL = stream.IngestURL()
	o.enter(ctx, &rep, StateStreamCreated)
	o.printf("Stream created. Stream ID: %s", rep.StreamID)

	o.printf("Creating live broadcast...")
	broadcastID, err := o.platform.CreateLiveBroadcast(ctx, youtube.BroadcastDescriptor{
		Title:          req.Metadata.Title,
		Description:    req.Metadata.Description,
		Tags:           req.Metadata.Tags,
		Privacy:        req.Metadata.Privacy,
		ScheduledStart: o.now().UTC(),
	})
	if err != nil {
		return o.abort(rep), fmt.Errorf("broadcast: create broadcast: %w", err)
	}
	rep.BroadcastID = broadcastID
	o.enter(ctx, &rep, StateBroadcastCreated)
	o.printf("Broadcast created. Broadcast ID: %s", rep.BroadcastID)

	o.printf("Binding stream to broadcast...")
	if err := o.platform.BindBroadcast(ctx, rep.BroadcastID, rep.StreamID); err != nil {
		return o.abort(rep), fmt.Errorf("broadcast: bind: %w", err)
	}
	o.enter(ctx, &rep, StateBound)

	o.printf("Streaming for %s", req.Duration)
	o.enter(ctx, &rep, StateStreaming)
	if o.metrics != nil {
		o.metrics.StreamStarted()
	}
	res, err := o.supervisor.Run(ctx, rep.IngestURL, req.SourcePath, req.Duration)
	if err != nil {
		log.Error("encoder could not run", zap.Error(err))
		o.printf("Error during streaming: %v", err)
		res.Reason = encoder.ReasonEncoderError
	}
	rep.Reason = res.Reason
	rep.ExitCode = res.ExitCode
	if o.metrics != nil {
		o.metrics.StreamFinished(string(res.Reason))
	}
	switch res.Reason {
	case encoder.ReasonCompleted:
		o.printf("Stream completed successfully")
	case encoder.ReasonInterrupted:
		o.printf("Stream interrupted")
	case encoder.ReasonDurationElapsed:
		o.printf("Stream stopped: encoder ran past its %s duration", req.Duration)
	default:
		switch {
		case res.Terminated:
			// A killed encoder has no exit code of its own.
			log.Warn("encoder stopped by supervisor", zap.String("reason", string(res.Reason)))
			o.printf("FFmpeg stopped by supervisor (%s)", res.Reason)
		case res.ExitCode > 0:
			log.Warn("encoder exited abnormally", zap.Int("exit_code", res.ExitCode), zap.String("reason", string(res.Reason)))
			o.printf("FFmpeg exited with code %d", res.ExitCode)
		}
	}

	rep.WatchURL = youtube.WatchURL(rep.BroadcastID)
	rep.FinishedAt = o.now().UTC()
	// The final report is emitted even when the run was interrupted.
	o.enter(context.WithoutCancel(ctx), &rep, StateFinished)
	o.printf("Live stream finished. Broadcast ID: %s", rep.BroadcastID)
	o.printf("View at: %s", rep.WatchURL)
	return rep, nil
}

func (o *Orchestrator) enter(ctx context.Context, rep *Report, to State) {
	from := rep.State
	rep.State = to
	o.log.Info("broadcast state",
		zap.String("run_id", rep.RunID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("stream_id", rep.StreamID),
		zap.String("broadcast_id", rep.BroadcastID))
	if o.metrics != nil {
		o.metrics.Transition(string(to))
	}
	if o.OnTransition != nil {
		o.OnTransition(ctx, Transition{
			RunID:       rep.RunID,
			From:        from,
			To:          to,
			StreamID:    rep.StreamID,
			BroadcastID: rep.BroadcastID,
			At:          o.now().UTC(),
		})
	}
}

// abort stamps a report for a run that failed during setup.
func (o *Orchestrator) abort(rep Report) Report {
	rep.FinishedAt = o.now().UTC()
	if rep.StreamID != "" || rep.BroadcastID != "" {
		o.printf("Setup failed. Created so far: stream=%q broadcast=%q (clean up manually)", rep.StreamID, rep.BroadcastID)
	}
	return rep
}

func (o *Orchestrator) printf(format string, args ...interface{}) {
	fmt.Fprintf(o.out, "[broadcast] "+format+"\n", args...)
}
