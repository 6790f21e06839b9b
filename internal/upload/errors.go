package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/aura-live/publisher/internal/youtube"
)

// Reason classifies a failed upload.
type Reason string

const (
	ReasonSessionExpired   Reason = "session_expired"
	ReasonRetriesExhausted Reason = "retries_exhausted"
	ReasonRemoteError      Reason = "remote_error"
)

// UploadError is a terminal upload failure. Offset is the last byte count the
// platform acknowledged.
type UploadError struct {
	Reason Reason
	Offset int64
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload: %s at offset %d: %v", e.Reason, e.Offset, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func sessionExpired(err error) bool {
	var re *youtube.RemoteError
	return errors.As(err, &re) && re.SessionExpired()
}

// transient reports whether a chunk failure is worth resuming from the
// acknowledged cursor.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *youtube.RemoteError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
