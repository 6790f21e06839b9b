package runs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-live/publisher/internal/models"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// List limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// querier is the subset of *pgxpool.Pool the repository uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles publish run persistence.
type Repository struct {
	db querier
}

// NewRepository creates a runs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const selectColumns = `id, kind, source_path, duration_hours, status, COALESCE(state,''), COALESCE(stream_id,''),
	COALESCE(broadcast_id,''), COALESCE(video_id,''), COALESCE(watch_url,''), COALESCE(reason,''), exit_code,
	COALESCE(error,''), COALESCE(archive_url,''), started_at, finished_at, created_at, updated_at`

func scanRun(row pgx.Row, run *models.Run) error {
	return row.Scan(&run.ID, &run.Kind, &run.SourcePath, &run.DurationHours, &run.Status, &run.State, &run.StreamID,
		&run.BroadcastID, &run.VideoID, &run.WatchURL, &run.Reason, &run.ExitCode,
		&run.Error, &run.ArchiveURL, &run.StartedAt, &run.FinishedAt, &run.CreatedAt, &run.UpdatedAt)
}

// Create inserts a run in the running status.
func (r *Repository) Create(ctx context.Context, run *models.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	const q = `INSERT INTO publish_runs (id, kind, source_path, duration_hours, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, q, run.ID, run.Kind, run.SourcePath, run.DurationHours, run.Status, run.StartedAt).
		Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateState records the orchestrator state and any platform IDs created so far.
func (r *Repository) UpdateState(ctx context.Context, id uuid.UUID, state, streamID, broadcastID string) error {
	const q = `UPDATE publish_runs SET state = $1, stream_id = NULLIF($2,''), broadcast_id = NULLIF($3,''), updated_at = NOW()
		WHERE id = $4`
	tag, err := r.db.Exec(ctx, q, state, streamID, broadcastID, id)
	if err != nil {
		return fmt.Errorf("update run state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish stores the terminal outcome of a run.
func (r *Repository) Finish(ctx context.Context, run *models.Run) error {
	const q = `UPDATE publish_runs SET status = $1, state = NULLIF($2,''), stream_id = NULLIF($3,''), broadcast_id = NULLIF($4,''),
		video_id = NULLIF($5,''), watch_url = NULLIF($6,''), reason = NULLIF($7,''), exit_code = $8, error = NULLIF($9,''),
		archive_url = NULLIF($10,''), finished_at = $11, updated_at = NOW()
		WHERE id = $12`
	tag, err := r.db.Exec(ctx, q, run.Status, run.State, run.StreamID, run.BroadcastID,
		run.VideoID, run.WatchURL, run.Reason, run.ExitCode, run.Error,
		run.ArchiveURL, run.FinishedAt, run.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns a run by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	q := `SELECT ` + selectColumns + ` FROM publish_runs WHERE id = $1`
	var run models.Run
	if err := scanRun(r.db.QueryRow(ctx, q, id), &run); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// List returns the most recent runs first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.Run, error) {
	q := `SELECT ` + selectColumns + ` FROM publish_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, q, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Run{}
	for rows.Next() {
		var run models.Run
		if err := scanRun(rows, &run); err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

// ClampLimit maps a requested page size onto [1, MaxListLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
