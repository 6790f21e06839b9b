// Package app wires configuration into the infrastructure shared by the
// publisher binaries.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/api"
	"github.com/aura-live/publisher/internal/events"
	"github.com/aura-live/publisher/internal/metrics"
	"github.com/aura-live/publisher/internal/runner"
	"github.com/aura-live/publisher/internal/runs"
	"github.com/aura-live/publisher/pkg/database"
	"github.com/aura-live/publisher/pkg/queue"
	"github.com/aura-live/publisher/pkg/redis"
	"github.com/aura-live/publisher/pkg/storage"
)

// Deps holds optional infrastructure. A nil field means the feature is off.
type Deps struct {
	Pool    *pgxpool.Pool
	Redis   *goredis.Client
	Runs    *runs.Repository
	Queue   *queue.Queue
	Archive *storage.Archive
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// OpenOptions selects what Open must connect to.
type OpenOptions struct {
	// RequireRedis fails Open when Redis is unreachable instead of running
	// without the queue and run events.
	RequireRedis bool
	// Metrics registers Prometheus collectors.
	Metrics bool
}

// Open connects the infrastructure enabled by cfg. The caller must Close the result.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts OpenOptions) (*Deps, error) {
	d := &Deps{Logger: logger}
	if opts.Metrics {
		d.Metrics = metrics.New()
	}

	if cfg.Database.URL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		d.Pool = pool
		d.Runs = runs.NewRepository(pool)
	} else {
		logger.Info("DATABASE_URL not set, run history disabled")
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	switch {
	case err == nil:
		d.Redis = rdb
		d.Queue = queue.NewQueue(rdb, logger)
	case opts.RequireRedis:
		d.Close()
		return nil, fmt.Errorf("redis: %w", err)
	default:
		logger.Warn("redis unavailable, run events disabled", zap.Error(err))
	}

	if cfg.AWS.ArchiveBucket != "" {
		archive, err := storage.NewArchive(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.AWS.ArchiveBucket,
			ArchiveMedia:    cfg.AWS.ArchiveMedia,
		}, logger)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("s3: %w", err)
		}
		d.Archive = archive
	}
	return d, nil
}

// Close releases open connections.
func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}

// RunnerOptions builds runner options, leaving disabled collaborators as untyped nil.
func (d *Deps) RunnerOptions(out io.Writer) runner.Options {
	opts := runner.Options{
		Events:  events.NewPublisher(d.Redis, d.Logger),
		Metrics: d.Metrics,
		Out:     out,
		Logger:  d.Logger,
	}
	if d.Runs != nil {
		opts.Store = d.Runs
	}
	if d.Archive != nil {
		opts.Archive = d.Archive
	}
	return opts
}

// APIHandler builds the control API handler over the enabled infrastructure.
func (d *Deps) APIHandler() *api.Handler {
	var (
		reader  api.RunReader
		enq     api.Enqueuer
		sub     api.Subscriber
		reports api.ReportLinker
	)
	if d.Runs != nil {
		reader = d.Runs
	}
	if d.Queue != nil {
		enq = d.Queue
	}
	if d.Redis != nil {
		sub = events.NewSubscriber(d.Redis, d.Logger)
	}
	if d.Archive != nil {
		reports = d.Archive
	}
	return api.NewHandler(reader, enq, sub, reports, d.Logger)
}

// NewLogger builds the production JSON logger at level (debug, info, warn, error).
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
