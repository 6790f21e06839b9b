// Package main runs the background publish worker (queued live streams and uploads).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/app"
	"github.com/aura-live/publisher/internal/runner"
	"github.com/aura-live/publisher/internal/worker"
)

// stopGrace bounds how long a cancelled job may spend finalizing its run.
const stopGrace = 45 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("[config] Error: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := cfg.YouTube.Validate(); err != nil {
		os.Stderr.WriteString("[config] Error: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("[config] Error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	deps, err := app.Open(ctx, cfg, logger, app.OpenOptions{RequireRedis: true, Metrics: true})
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer deps.Close()

	exec := runner.New(cfg, deps.RunnerOptions(os.Stdout))
	processor := worker.NewProcessor(exec, deps.Queue, deps.Metrics, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(stopGrace):
		logger.Warn("worker did not stop within grace period")
	}
	logger.Info("worker stopped")
}
