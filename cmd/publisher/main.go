// Package main is the publisher CLI: run a live stream or an upload in the
// foreground, queue one for a worker, or mint an operator token.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/app"
	"github.com/aura-live/publisher/internal/auth"
	"github.com/aura-live/publisher/internal/credentials"
	"github.com/aura-live/publisher/internal/runner"
	"github.com/aura-live/publisher/internal/upload"
	"github.com/aura-live/publisher/internal/youtube"
	"github.com/aura-live/publisher/pkg/queue"
	"github.com/aura-live/publisher/pkg/redis"
)

const usage = `usage:
  publisher stream <video_path> [duration_hours]
  publisher upload <video_path>
  publisher enqueue <stream|upload> <video_path> [duration_hours]
  publisher token <subject> [operator|viewer]`

// usageError is printed with the usage text.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, fatalLine(os.Args[1:], err))
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, usage)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return &usageError{"missing command"}
	}
	cmd, rest := args[0], args[1:]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch cmd {
	case "stream":
		if len(rest) < 1 || len(rest) > 2 {
			return &usageError{"stream takes <video_path> [duration_hours]"}
		}
		hours := cfg.Metadata.DurationHours
		if len(rest) == 2 {
			if hours, err = parseHours(rest[1]); err != nil {
				return err
			}
		}
		return runStream(ctx, cfg, rest[0], hours, out)
	case "upload":
		if len(rest) != 1 {
			return &usageError{"upload takes <video_path>"}
		}
		return runUpload(ctx, cfg, rest[0], out)
	case "enqueue":
		return runEnqueue(ctx, cfg, rest, out)
	case "token":
		return runToken(cfg, rest, out)
	default:
		return &usageError{fmt.Sprintf("unknown command %q", cmd)}
	}
}

func parseHours(s string) (float64, error) {
	hours, err := config.ParseDurationHours(s)
	if err != nil {
		return 0, &config.Error{Key: "duration_hours", Reason: err.Error()}
	}
	return hours, nil
}

// openRunner validates credentials before any connection is made, then wires
// whatever optional infrastructure is reachable.
func openRunner(ctx context.Context, cfg *config.Config) (*app.Deps, error) {
	if err := cfg.YouTube.Validate(); err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, &config.Error{Key: "LOG_LEVEL", Reason: err.Error()}
	}
	return app.Open(ctx, cfg, logger, app.OpenOptions{})
}

func runStream(ctx context.Context, cfg *config.Config, path string, hours float64, out io.Writer) error {
	deps, err := openRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()
	defer deps.Logger.Sync()

	res, err := runner.New(cfg, deps.RunnerOptions(out)).Stream(ctx, path, hours)
	if err != nil {
		return err
	}
	deps.Logger.Info("stream finished",
		zap.String("run_id", res.Run.ID.String()),
		zap.String("reason", res.Run.Reason))
	return nil
}

func runUpload(ctx context.Context, cfg *config.Config, path string, out io.Writer) error {
	deps, err := openRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()
	defer deps.Logger.Sync()

	_, err = runner.New(cfg, deps.RunnerOptions(out)).Upload(ctx, path)
	return err
}

func runEnqueue(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return &usageError{"enqueue takes <stream|upload> <video_path> [duration_hours]"}
	}
	typ, path := queue.JobType(args[0]), args[1]
	if typ != queue.JobTypeStream && typ != queue.JobTypeUpload {
		return &usageError{fmt.Sprintf("unknown job type %q", args[0])}
	}
	var hours float64
	if len(args) == 3 {
		if typ != queue.JobTypeStream {
			return &usageError{"duration_hours applies to stream jobs only"}
		}
		var err error
		if hours, err = parseHours(args[2]); err != nil {
			return err
		}
	}

	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return &config.Error{Key: "LOG_LEVEL", Reason: err.Error()}
	}
	defer logger.Sync()
	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	q := queue.NewQueue(rdb, logger)
	var job *queue.Job
	if typ == queue.JobTypeStream {
		job, err = q.EnqueueStream(ctx, queue.StreamPayload{VideoPath: path, DurationHours: hours})
	} else {
		job, err = q.EnqueueUpload(ctx, queue.UploadPayload{VideoPath: path})
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[queue] Enqueued %s job %s\n", job.Type, job.ID)
	return nil
}

func runToken(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return &usageError{"token takes <subject> [operator|viewer]"}
	}
	role := auth.RoleOperator
	if len(args) == 2 {
		role = args[1]
	}
	token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(args[0], role)
	if err != nil {
		if errors.Is(err, auth.ErrNoSecret) {
			return &config.Error{Key: "JWT_SECRET", Reason: "missing required environment variable"}
		}
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// fatalLine prefixes err with the component that raised it.
func fatalLine(args []string, err error) string {
	component := "publisher"
	var (
		cfgErr    *config.Error
		authErr   *credentials.AuthError
		uploadErr *upload.UploadError
		remoteErr *youtube.RemoteError
	)
	switch {
	case errors.As(err, &cfgErr):
		component = "config"
	case errors.As(err, &authErr):
		component = "auth"
	case errors.As(err, &uploadErr):
		component = "upload"
	case errors.As(err, &remoteErr):
		component = "platform"
	case len(args) > 0 && args[0] == "stream":
		component = "broadcast"
	case len(args) > 0 && args[0] == "upload":
		component = "upload"
	case len(args) > 0 && args[0] == "enqueue":
		component = "queue"
	}
	return fmt.Sprintf("[%s] Error: %v", component, err)
}
