package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Reason is why a streaming session ended.
type Reason string

const (
	ReasonCompleted       Reason = "completed"
	ReasonDurationElapsed Reason = "duration_elapsed"
	ReasonInterrupted     Reason = "interrupted"
	ReasonEncoderError    Reason = "encoder_error"
)

const (
	defaultKillGrace    = 10 * time.Second
	defaultHardCapGrace = 30 * time.Second
	minStallCheck       = 10 * time.Millisecond
)

// CommandFactory builds the encoder process. The process is never bound to a
// context; stopping it is always explicit so it can be interrupted then waited.
type CommandFactory func(name string, args ...string) *exec.Cmd

// Config controls the encoder subprocess.
type Config struct {
	FFmpegPath string
	// KillGrace is how long an interrupted encoder may take to exit before it is killed.
	KillGrace time.Duration
	// HardCapGrace is how long past its duration the encoder may keep running.
	HardCapGrace time.Duration
	// StallTimeout ends a session whose encoder writes nothing for this long. Zero disables it.
	StallTimeout time.Duration
}

// Result describes a finished streaming session.
type Result struct {
	Reason     Reason
	ExitCode   int
	Terminated bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Supervisor runs ffmpeg against an ingest URL and guarantees it is stopped
// and reaped before Run returns.
type Supervisor struct {
	cfg     Config
	Command CommandFactory
	log     *zap.Logger
}

// NewSupervisor creates a supervisor with defaults for unset timings.
func NewSupervisor(cfg Config, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if cfg.HardCapGrace <= 0 {
		cfg.HardCapGrace = defaultHardCapGrace
	}
	return &Supervisor{cfg: cfg, Command: exec.Command, log: log}
}

// Start launches the encoder. The caller owns the session and must Close it.
func (s *Supervisor) Start(ingestURL, sourcePath string, duration time.Duration) (*Session, error) {
	if ingestURL == "" {
		return nil, errors.New("encoder: empty ingest url")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("encoder: non-positive duration %s", duration)
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("encoder: source: %w", err)
	}
	cmd := s.Command(s.cfg.FFmpegPath, Args(sourcePath, ingestURL, duration)...)
	return startSession(cmd, sourcePath, ingestURL, duration, s.cfg.KillGrace, s.log)
}

// Run streams sourcePath to ingestURL for at most duration. Encoder failures
// and interruption are reported through Result.Reason; an error is returned
// only when the encoder could not be started at all.
func (s *Supervisor) Run(ctx context.Context, ingestURL, sourcePath string, duration time.Duration) (Result, error) {
	sess, err := s.Start(ingestURL, sourcePath, duration)
	if err != nil {
		return Result{Reason: ReasonEncoderError, ExitCode: -1}, err
	}
	defer sess.Close()

	hardCap := time.NewTimer(duration + s.cfg.HardCapGrace)
	defer hardCap.Stop()

	var stall <-chan time.Time
	if s.cfg.StallTimeout > 0 {
		interval := s.cfg.StallTimeout / 4
		if interval < minStallCheck {
			interval = minStallCheck
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		stall = ticker.C
	}

	var reason Reason
	for reason == "" {
		select {
		case <-sess.Done():
			if sess.ExitCode() == 0 {
				reason = ReasonCompleted
			} else {
				reason = ReasonEncoderError
			}
		case <-ctx.Done():
			s.log.Info("streaming interrupted", zap.Error(ctx.Err()))
			reason = ReasonInterrupted
		case <-hardCap.C:
			s.log.Warn("encoder overran its duration", zap.Duration("duration", duration))
			reason = ReasonDurationElapsed
		case <-stall:
			if idle := sess.IdleFor(); idle >= s.cfg.StallTimeout {
				s.log.Error("encoder stalled", zap.Duration("idle", idle))
				reason = ReasonEncoderError
			}
		}
	}

	_ = sess.Close()
	res := Result{
		Reason:     reason,
		ExitCode:   sess.ExitCode(),
		Terminated: sess.signalled,
		StartedAt:  sess.startedAt,
		FinishedAt: sess.finishedAt,
	}
	fields := []zap.Field{
		zap.String("reason", string(res.Reason)),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("terminated", res.Terminated),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	}
	if res.Reason == ReasonEncoderError {
		s.log.Error("encoder finished with error", fields...)
	} else {
		s.log.Info("encoder finished", fields...)
	}
	return res, nil
}
