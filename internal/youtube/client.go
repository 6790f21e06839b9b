package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of an error response is kept in RemoteError.
const maxErrorBody = 4 << 10

// TokenSource supplies bearer tokens and accepts invalidation after a 401.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Invalidate()
}

// ClientConfig holds Data API client settings.
type ClientConfig struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestsPerSecond float64
}

// Client is a thin typed wrapper over the YouTube Data API v3 live and upload
// endpoints. It never retries on its own except to replay a request once with
// a fresh token after a 401.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a Data API client.
func NewClient(cfg ClientConfig, tokens TokenSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := http.DefaultClient
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient
	}
	// Resumable uploads answer 308 without a redirect target; never follow it.
	hc := *base
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if b := int(cfg.RequestsPerSecond); b > burst {
			burst = b
		}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &hc,
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// CreateLiveStream calls liveStreams.insert and returns the ingest endpoint.
func (c *Client) CreateLiveStream(ctx context.Context, req StreamRequest) (StreamDescriptor, error) {
	const op = "liveStreams.insert"
	var body liveStreamResource
	body.Snippet.Title = req.Title
	body.CDN.Format = req.Format
	body.CDN.IngestionType = req.IngestionType

	var out liveStreamResource
	if err := c.callJSON(ctx, op, http.MethodPost, c.apiURL("/youtube/v3/liveStreams", url.Values{"part": {"snippet,cdn"}}), body, &out); err != nil {
		return StreamDescriptor{}, err
	}
	d := StreamDescriptor{
		StreamID:         out.ID,
		IngestionAddress: out.CDN.IngestionInfo.IngestionAddress,
		StreamName:       out.CDN.IngestionInfo.StreamName,
	}
	if d.StreamID == "" || d.IngestionAddress == "" || d.StreamName == "" {
		return StreamDescriptor{}, fmt.Errorf("youtube: %s: incomplete response (id=%q)", op, d.StreamID)
	}
	return d, nil
}

// CreateLiveBroadcast calls liveBroadcasts.insert with auto-start and
// auto-stop enabled and returns the broadcast id.
func (c *Client) CreateLiveBroadcast(ctx context.Context, b BroadcastDescriptor) (string, error) {
	const op = "liveBroadcasts.insert"
	var body liveBroadcastResource
	body.Snippet.Title = b.Title
	body.Snippet.Description = b.Description
	body.Snippet.ScheduledStartTime = b.ScheduledStart.UTC().Format(time.RFC3339)
	body.Status.PrivacyStatus = b.Privacy
	body.Status.SelfDeclaredMadeForKids = false
	body.ContentDetails.EnableAutoStart = true
	body.ContentDetails.EnableAutoStop = true

	var out liveBroadcastResource
	if err := c.callJSON(ctx, op, http.MethodPost, c.apiURL("/youtube/v3/liveBroadcasts", url.Values{"part": {"snippet,status,contentDetails"}}), body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("youtube: %s: response without id", op)
	}
	return out.ID, nil
}

// BindBroadcast calls liveBroadcasts.bind.
func (c *Client) BindBroadcast(ctx context.Context, broadcastID, streamID string) error {
	const op = "liveBroadcasts.bind"
	q := url.Values{
		"id":       {broadcastID},
		"streamId": {streamID},
		"part":     {"id,contentDetails"},
	}
	var out liveBroadcastResource
	if err := c.callJSON(ctx, op, http.MethodPost, c.apiURL("/youtube/v3/liveBroadcasts/bind", q), nil, &out); err != nil {
		return err
	}
	if out.ContentDetails.BoundStreamID != "" && out.ContentDetails.BoundStreamID != streamID {
		return fmt.Errorf("youtube: %s: bound to %q, want %q", op, out.ContentDetails.BoundStreamID, streamID)
	}
	return nil
}

// InitiateUpload starts a resumable videos.insert session and returns its URI.
func (c *Client) InitiateUpload(ctx context.Context, meta VideoMetadata, size int64, contentType string) (string, error) {
	const op = "videos.insert"
	var body videoResource
	body.Snippet.Title = meta.Title
	body.Snippet.Description = meta.Description
	body.Snippet.Tags = meta.Tags
	body.Snippet.CategoryID = meta.CategoryID
	body.Status.PrivacyStatus = meta.Privacy
	body.Status.SelfDeclaredMadeForKids = false

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("youtube: %s: marshal: %w", op, err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json; charset=UTF-8")
	headers.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
	headers.Set("X-Upload-Content-Type", contentType)

	u := c.apiURL("/upload/youtube/v3/videos", url.Values{"uploadType": {"resumable"}, "part": {"snippet,status"}})
	resp, err := c.do(ctx, op, http.MethodPost, u, payload, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", remoteError(op, resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("youtube: %s: missing upload session location", op)
	}
	return location, nil
}

// UploadChunk sends chunk as the bytes starting at offset.
func (c *Client) UploadChunk(ctx context.Context, sessionURI string, offset int64, chunk []byte, total int64) (ChunkStatus, error) {
	headers := http.Header{}
	headers.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))
	return c.putSession(ctx, "videos.insert chunk", sessionURI, chunk, headers)
}

// QueryUpload asks the platform how many bytes of the session it holds.
func (c *Client) QueryUpload(ctx context.Context, sessionURI string, total int64) (ChunkStatus, error) {
	headers := http.Header{}
	headers.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	return c.putSession(ctx, "videos.insert status", sessionURI, nil, headers)
}

func (c *Client) putSession(ctx context.Context, op, sessionURI string, body []byte, headers http.Header) (ChunkStatus, error) {
	resp, err := c.do(ctx, op, http.MethodPut, sessionURI, body, headers)
	if err != nil {
		return ChunkStatus{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPermanentRedirect:
		committed, err := parseRange(resp.Header.Get("Range"))
		if err != nil {
			return ChunkStatus{}, fmt.Errorf("youtube: %s: %w", op, err)
		}
		return ChunkStatus{Committed: committed}, nil
	case http.StatusOK, http.StatusCreated:
		var v videoResource
		if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
			return ChunkStatus{}, fmt.Errorf("youtube: %s: decode: %w", op, err)
		}
		if v.ID == "" {
			return ChunkStatus{}, fmt.Errorf("youtube: %s: completed upload without video id", op)
		}
		return ChunkStatus{Done: true, VideoID: v.ID}, nil
	default:
		return ChunkStatus{}, remoteError(op, resp)
	}
}

// parseRange converts "bytes=0-N" into N+1 committed bytes. An absent header
// means nothing has been committed yet.
func parseRange(h string) (int64, error) {
	if h == "" {
		return 0, nil
	}
	rng := strings.TrimPrefix(h, "bytes=")
	dash := strings.IndexByte(rng, '-')
	if dash < 0 {
		return 0, fmt.Errorf("malformed range %q", h)
	}
	last, err := strconv.ParseInt(rng[dash+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed range %q", h)
	}
	return last + 1, nil
}

func (c *Client) callJSON(ctx context.Context, op, method, u string, in, out interface{}) error {
	var payload []byte
	headers := http.Header{}
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("youtube: %s: marshal: %w", op, err)
		}
		headers.Set("Content-Type", "application/json")
	}
	resp, err := c.do(ctx, op, method, u, payload, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("youtube: %s: decode: %w", op, err)
	}
	return nil
}

// do sends one authorized request. A 401 invalidates the token and the request
// is replayed once; the platform rejected it before acting on it.
func (c *Client) do(ctx context.Context, op, method, u string, body []byte, headers http.Header) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("youtube: %s: %w", op, err)
		}
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("youtube: %s: build request: %w", op, err)
		}
		req.ContentLength = int64(len(body))
		for k, v := range headers {
			req.Header[k] = v
		}
		tok.SetAuthHeader(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("youtube: %s: %w", op, err)
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
			c.logger.Warn("access token rejected, refreshing", zap.String("op", op))
			c.tokens.Invalidate()
			continue
		}
		c.logger.Debug("youtube request", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return resp, nil
	}
}

func (c *Client) apiURL(path string, q url.Values) string {
	return c.baseURL + path + "?" + q.Encode()
}

func remoteError(op string, resp *http.Response) *RemoteError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
