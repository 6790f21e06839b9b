// Package main runs the publisher control API with an embedded job worker and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/api"
	"github.com/aura-live/publisher/internal/app"
	"github.com/aura-live/publisher/internal/auth"
	"github.com/aura-live/publisher/internal/runner"
	"github.com/aura-live/publisher/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("[config] Error: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("[config] Error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	deps, err := app.Open(ctx, cfg, logger, app.OpenOptions{RequireRedis: true, Metrics: true})
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer deps.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	if cfg.JWT.Secret == "" {
		logger.Warn("JWT_SECRET not set, authenticated routes will reject every request")
	}

	router := api.NewRouter(api.RouterConfig{
		Handler:     deps.APIHandler(),
		JWT:         jwtService,
		Metrics:     deps.Metrics.Handler(),
		Counter:     deps.Metrics,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		Logger:      logger,
	})

	// No WriteTimeout: run event streams stay open for the whole run.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	if cfg.YouTube.Validate() == nil {
		exec := runner.New(cfg, deps.RunnerOptions(os.Stdout))
		processor := worker.NewProcessor(exec, deps.Queue, deps.Metrics, logger)
		go func() {
			defer close(workerDone)
			processor.Run(workerCtx)
		}()
	} else {
		logger.Warn("YouTube credentials not set, embedded worker disabled")
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop before shutdown deadline")
	}
	logger.Info("server stopped")
}
