package encoder

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// drainTimeout bounds how long Close waits for the output pipe after the
// process has exited; a grandchild may still hold the write end.
const drainTimeout = 2 * time.Second

// Session is one running encoder process. It must be closed on every path;
// Close is idempotent and always leaves no live child behind.
type Session struct {
	cmd        *exec.Cmd
	sourcePath string
	ingestURL  string
	duration   time.Duration
	killGrace  time.Duration
	log        *zap.Logger

	pipe       *os.File
	exited     chan struct{}
	drained    chan struct{}
	lastOutput atomic.Int64

	closeOnce  sync.Once
	signalled  bool
	exitCode   int
	startedAt  time.Time
	finishedAt time.Time
}

func startSession(cmd *exec.Cmd, sourcePath, ingestURL string, duration, killGrace time.Duration, log *zap.Logger) (*Session, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("encoder: output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("encoder: start %s: %w", cmd.Path, err)
	}
	// The child owns the write end now.
	w.Close()

	s := &Session{
		cmd:        cmd,
		sourcePath: sourcePath,
		ingestURL:  ingestURL,
		duration:   duration,
		killGrace:  killGrace,
		log:        log,
		pipe:       r,
		exited:     make(chan struct{}),
		drained:    make(chan struct{}),
		exitCode:   -1,
		startedAt:  time.Now(),
	}
	s.touch()

	go func() {
		defer close(s.drained)
		drain(r, func(line string) {
			s.touch()
			s.log.Info("[ffmpeg] " + line)
		})
	}()
	go func() {
		_ = cmd.Wait()
		if ps := cmd.ProcessState; ps != nil {
			s.exitCode = ps.ExitCode()
		}
		s.finishedAt = time.Now()
		close(s.exited)
	}()

	log.Info("encoder started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("source", sourcePath),
		zap.Duration("duration", duration))
	return s, nil
}

// Done is closed once the process has exited and been reaped.
func (s *Session) Done() <-chan struct{} { return s.exited }

// Pid returns the encoder's process id.
func (s *Session) Pid() int { return s.cmd.Process.Pid }

// ExitCode is the process exit status, or -1 while running or when it was
// ended by a signal.
func (s *Session) ExitCode() int {
	select {
	case <-s.exited:
		return s.exitCode
	default:
		return -1
	}
}

// IdleFor reports how long the encoder has gone without writing a line.
func (s *Session) IdleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastOutput.Load()))
}

func (s *Session) touch() { s.lastOutput.Store(time.Now().UnixNano()) }

// Close interrupts the encoder, waits up to the kill grace for it to exit,
// kills it otherwise, and then waits for it to be reaped.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.exited:
		default:
			s.signalled = true
			s.log.Info("stopping encoder", zap.Int("pid", s.Pid()))
			if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
				s.log.Warn("interrupt encoder", zap.Error(err))
			}
			grace := time.NewTimer(s.killGrace)
			select {
			case <-s.exited:
			case <-grace.C:
				s.log.Warn("encoder ignored interrupt, killing", zap.Int("pid", s.Pid()))
				_ = s.cmd.Process.Kill()
				<-s.exited
			}
			grace.Stop()
		}

		select {
		case <-s.drained:
		case <-time.After(drainTimeout):
			s.log.Warn("encoder output still open after exit")
		}
		s.pipe.Close()
	})
	return nil
}
