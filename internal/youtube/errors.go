package youtube

import (
	"fmt"
	"net/http"
)

// RemoteError is a non-success response from the platform.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("youtube: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// SessionExpired reports whether a resumable upload session is gone for good.
func (e *RemoteError) SessionExpired() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// Temporary reports whether the platform asked the caller to try again later.
func (e *RemoteError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
