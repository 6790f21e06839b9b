package youtube

import (
	"strings"
	"time"
)

// Stream quality tier requested for every live stream.
const (
	FormatHD1080  = "1080p"
	IngestionRTMP = "rtmp"
)

// WatchURLPrefix is the viewer-facing URL prefix for videos and broadcasts.
const WatchURLPrefix = "https://www.youtube.com/watch?v="

// StreamRequest describes the live stream (ingest) resource to create.
type StreamRequest struct {
	Title         string
	Format        string
	IngestionType string
}

// StreamDescriptor is the ingest endpoint returned by liveStreams.insert.
type StreamDescriptor struct {
	StreamID         string
	IngestionAddress string
	StreamName       string
}

// IngestURL joins the ingestion address and stream key with exactly one slash.
func (d StreamDescriptor) IngestURL() string {
	return strings.TrimRight(d.IngestionAddress, "/") + "/" + strings.TrimLeft(d.StreamName, "/")
}

// BroadcastDescriptor is the public listing of a live event. BroadcastID is
// empty until the platform has created it.
type BroadcastDescriptor struct {
	BroadcastID    string
	Title          string
	Description    string
	Tags           []string
	Privacy        string
	ScheduledStart time.Time
}

// VideoMetadata is the snippet/status body of videos.insert.
type VideoMetadata struct {
	Title       string
	Description string
	Tags        []string
	CategoryID  string
	Privacy     string
}

// ChunkStatus is the platform's view of a resumable upload session. Committed
// is the number of bytes acknowledged; VideoID is set once Done.
type ChunkStatus struct {
	Committed int64
	Done      bool
	VideoID   string
}

// WatchURL returns the public URL for a video or broadcast id.
func WatchURL(id string) string {
	return WatchURLPrefix + id
}

type liveStreamResource struct {
	ID      string `json:"id,omitempty"`
	Snippet struct {
		Title string `json:"title"`
	} `json:"snippet"`
	CDN struct {
		Format        string `json:"format,omitempty"`
		IngestionType string `json:"ingestionType"`
		Resolution    string `json:"resolution,omitempty"`
		FrameRate     string `json:"frameRate,omitempty"`
		IngestionInfo struct {
			IngestionAddress string `json:"ingestionAddress,omitempty"`
			StreamName       string `json:"streamName,omitempty"`
		} `json:"ingestionInfo"`
	} `json:"cdn"`
}

type liveBroadcastResource struct {
	ID      string `json:"id,omitempty"`
	Snippet struct {
		Title              string `json:"title"`
		Description        string `json:"description"`
		ScheduledStartTime string `json:"scheduledStartTime"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus           string `json:"privacyStatus"`
		SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
	} `json:"status"`
	ContentDetails struct {
		EnableAutoStart bool   `json:"enableAutoStart"`
		EnableAutoStop  bool   `json:"enableAutoStop"`
		BoundStreamID   string `json:"boundStreamId,omitempty"`
	} `json:"contentDetails"`
}

type videoResource struct {
	ID      string `json:"id,omitempty"`
	Snippet struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
		CategoryID  string   `json:"categoryId,omitempty"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus           string `json:"privacyStatus"`
		SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
	} `json:"status"`
}
