package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/publisher/internal/youtube"
)

// ChunkQuantum is the granularity the platform requires for non-final chunks.
const ChunkQuantum = 256 << 10

const (
	defaultChunkSize   = 8 << 20
	defaultMaxRetries  = 5
	defaultInitialWait = time.Second
	defaultMaxWait     = 30 * time.Second
	defaultMultiplier  = 2.0
)

// videoTypes covers containers the stdlib mime table may not know.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".flv":  "video/x-flv",
	".avi":  "video/x-msvideo",
}

// Status of an upload session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Platform is the subset of the Data API the driver needs.
type Platform interface {
	InitiateUpload(ctx context.Context, meta youtube.VideoMetadata, size int64, contentType string) (string, error)
	UploadChunk(ctx context.Context, sessionURI string, offset int64, chunk []byte, total int64) (youtube.ChunkStatus, error)
	QueryUpload(ctx context.Context, sessionURI string, total int64) (youtube.ChunkStatus, error)
}

// Metrics receives upload counters. A nil Metrics is ignored.
type Metrics interface {
	AddUploadBytes(n int64)
	IncUploadRetries()
}

// ProgressFunc is called after every acknowledged chunk.
type ProgressFunc func(committed, total int64)

// Config controls chunking and retry behavior.
type Config struct {
	ChunkSize   int64
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	ContentType string
}

// Session is the state of one resumable upload. Cursor only ever moves to an
// offset the platform acknowledged.
type Session struct {
	Path    string
	Total   int64
	Cursor  int64
	URI     string
	Status  Status
	VideoID string
}

// Driver uploads a local file through a resumable session.
type Driver struct {
	platform   Platform
	cfg        Config
	log        *zap.Logger
	metrics    Metrics
	OnProgress ProgressFunc
}

// NewDriver creates a driver. The chunk size is rounded down to a multiple of
// ChunkQuantum.
func NewDriver(platform Platform, cfg Config, metrics Metrics, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	cfg.ChunkSize = cfg.ChunkSize / ChunkQuantum * ChunkQuantum
	if cfg.ChunkSize < ChunkQuantum {
		cfg.ChunkSize = ChunkQuantum
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = defaultInitialWait
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = defaultMultiplier
	}
	return &Driver{platform: platform, cfg: cfg, log: log, metrics: metrics}
}

// Upload sends the file at path with the given metadata and returns the new
// video id.
func (d *Driver) Upload(ctx context.Context, path string, meta youtube.VideoMetadata) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("upload: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("upload: stat: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("upload: %s is empty", path)
	}

	sess := &Session{Path: path, Total: info.Size(), Status: StatusInProgress}
	uri, err := d.platform.InitiateUpload(ctx, meta, sess.Total, d.contentType(path))
	if err != nil {
		sess.Status = StatusFailed
		return "", &UploadError{Reason: ReasonRemoteError, Err: err}
	}
	sess.URI = uri
	d.log.Info("upload session started", zap.String("path", path), zap.Int64("size", sess.Total))

	if err := d.send(ctx, f, sess); err != nil {
		sess.Status = StatusFailed
		d.log.Error("upload failed", zap.String("path", path), zap.Int64("offset", sess.Cursor), zap.Error(err))
		return "", err
	}
	d.log.Info("upload complete", zap.String("video_id", sess.VideoID), zap.String("watch_url", youtube.WatchURL(sess.VideoID)))
	return sess.VideoID, nil
}

func (d *Driver) send(ctx context.Context, r io.ReaderAt, sess *Session) error {
	buf := make([]byte, d.cfg.ChunkSize)
	failures := 0
	lastPct := -1

	for sess.Status == StatusInProgress {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := sess.Total - sess.Cursor
		if n > d.cfg.ChunkSize {
			n = d.cfg.ChunkSize
		}
		chunk := buf[:n]
		if _, err := r.ReadAt(chunk, sess.Cursor); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("upload: read at %d: %w", sess.Cursor, err)
		}

		st, err := d.platform.UploadChunk(ctx, sess.URI, sess.Cursor, chunk, sess.Total)
		resumed := err != nil
		for err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if sessionExpired(err) {
				return &UploadError{Reason: ReasonSessionExpired, Offset: sess.Cursor, Err: err}
			}
			if !transient(err) {
				return &UploadError{Reason: ReasonRemoteError, Offset: sess.Cursor, Err: err}
			}
			if failures >= d.cfg.MaxRetries {
				return &UploadError{Reason: ReasonRetriesExhausted, Offset: sess.Cursor, Err: err}
			}
			wait := d.backoff(failures)
			failures++
			if d.metrics != nil {
				d.metrics.IncUploadRetries()
			}
			d.log.Warn("chunk failed, resuming",
				zap.Int("attempt", failures),
				zap.Int64("offset", sess.Cursor),
				zap.Duration("wait", wait),
				zap.Error(err))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			st, err = d.platform.QueryUpload(ctx, sess.URI, sess.Total)
		}

		if st.Done {
			d.advance(sess, sess.Total)
			sess.Status = StatusComplete
			sess.VideoID = st.VideoID
		} else {
			if st.Committed < sess.Cursor {
				return &UploadError{
					Reason: ReasonRemoteError,
					Offset: sess.Cursor,
					Err:    fmt.Errorf("acknowledged offset %d is behind %d", st.Committed, sess.Cursor),
				}
			}
			if st.Committed > sess.Cursor {
				failures = 0
			} else if !resumed {
				// A chunk was accepted without moving the cursor.
				if failures >= d.cfg.MaxRetries {
					return &UploadError{
						Reason: ReasonRetriesExhausted,
						Offset: sess.Cursor,
						Err:    errors.New("platform acknowledged no progress"),
					}
				}
				failures++
			}
			d.advance(sess, st.Committed)
		}

		if pct := int(math.Floor(float64(sess.Cursor) * 100 / float64(sess.Total))); pct != lastPct {
			lastPct = pct
			d.log.Info(fmt.Sprintf("Upload progress: %d%%", pct))
		}
		if d.OnProgress != nil {
			d.OnProgress(sess.Cursor, sess.Total)
		}
	}
	return nil
}

func (d *Driver) advance(sess *Session, committed int64) {
	if d.metrics != nil && committed > sess.Cursor {
		d.metrics.AddUploadBytes(committed - sess.Cursor)
	}
	sess.Cursor = committed
}

func (d *Driver) backoff(attempt int) time.Duration {
	wait := time.Duration(float64(d.cfg.InitialWait) * math.Pow(d.cfg.Multiplier, float64(attempt)))
	if wait > d.cfg.MaxWait {
		wait = d.cfg.MaxWait
	}
	return wait
}

func (d *Driver) contentType(path string) string {
	if d.cfg.ContentType != "" {
		return d.cfg.ContentType
	}
	return ContentType(path)
}

// ContentType guesses the media type of a video file from its extension.
func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
