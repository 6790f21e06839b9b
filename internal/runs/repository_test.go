package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/publisher/internal/models"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeDB struct {
	execSQL  string
	execArgs []any
	execTag  string
	execErr  error
	rowArgs  []any
	row      fakeRow
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return pgconn.NewCommandTag(f.execTag), f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.rowArgs = args
	return f.row
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		require.Len(t, dest, 2)
		*dest[0].(*time.Time) = created
		*dest[1].(*time.Time) = created
		return nil
	}}}
	repo := &Repository{db: db}

	run := &models.Run{Kind: models.RunKindStream, SourcePath: "/media/a.mp4", DurationHours: 6}
	require.NoError(t, repo.Create(context.Background(), run))

	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, created, run.CreatedAt)
	assert.Equal(t, run.ID, db.rowArgs[0])
	assert.Equal(t, "stream", db.rowArgs[1])
}

func TestCreateWrapsError(t *testing.T) {
	boom := errors.New("connection refused")
	repo := &Repository{db: &fakeDB{row: fakeRow{scan: func(...any) error { return boom }}}}

	err := repo.Create(context.Background(), &models.Run{Kind: models.RunKindUpload})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestFinishPassesOutcome(t *testing.T) {
	db := &fakeDB{execTag: "UPDATE 1"}
	repo := &Repository{db: db}
	code := 0
	done := time.Now().UTC()
	run := &models.Run{
		ID:          uuid.New(),
		Status:      models.RunStatusSucceeded,
		State:       "finished",
		StreamID:    "s1",
		BroadcastID: "b1",
		WatchURL:    "https://www.youtube.com/watch?v=b1",
		Reason:      "completed",
		ExitCode:    &code,
		FinishedAt:  &done,
	}
	require.NoError(t, repo.Finish(context.Background(), run))

	require.Len(t, db.execArgs, 12)
	assert.Equal(t, models.RunStatusSucceeded, db.execArgs[0])
	assert.Equal(t, "b1", db.execArgs[3])
	assert.Equal(t, &code, db.execArgs[7])
	assert.Equal(t, run.ID, db.execArgs[11])
}

func TestFinishUnknownRun(t *testing.T) {
	repo := &Repository{db: &fakeDB{execTag: "UPDATE 0"}}
	err := repo.Finish(context.Background(), &models.Run{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateState(t *testing.T) {
	db := &fakeDB{execTag: "UPDATE 1"}
	repo := &Repository{db: db}
	id := uuid.New()

	require.NoError(t, repo.UpdateState(context.Background(), id, "bound", "s1", "b1"))
	assert.Equal(t, []any{"bound", "s1", "b1", id}, db.execArgs)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := &Repository{db: &fakeDB{row: fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}}}
	run, err := repo.GetByID(context.Background(), uuid.New())
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByIDScansAllColumns(t *testing.T) {
	id := uuid.New()
	repo := &Repository{db: &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		require.Len(t, dest, 18)
		*dest[0].(*uuid.UUID) = id
		*dest[1].(*string) = models.RunKindUpload
		*dest[8].(*string) = "vid123"
		return nil
	}}}}
	run, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "upload", run.Kind)
	assert.Equal(t, "vid123", run.VideoID)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-5, DefaultListLimit},
		{1, 1},
		{50, 50},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampLimit(tt.in), "limit %d", tt.in)
	}
}
