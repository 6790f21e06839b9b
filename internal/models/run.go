package models

import (
	"time"

	"github.com/google/uuid"
)

// Run kinds.
const (
	RunKindStream = "stream"
	RunKindUpload = "upload"
)

// Run status.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one stream or upload execution and what it created on the platform.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	Kind          string     `json:"kind"`
	SourcePath    string     `json:"source_path"`
	DurationHours float64    `json:"duration_hours,omitempty"`
	Status        string     `json:"status"`
	State         string     `json:"state,omitempty"`
	StreamID      string     `json:"stream_id,omitempty"`
	BroadcastID   string     `json:"broadcast_id,omitempty"`
	VideoID       string     `json:"video_id,omitempty"`
	WatchURL      string     `json:"watch_url,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	Error         string     `json:"error,omitempty"`
	ArchiveURL    string     `json:"archive_url,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
