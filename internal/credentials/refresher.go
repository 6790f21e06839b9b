package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// OAuth scopes used by the publisher.
const (
	ScopeYouTube       = "https://www.googleapis.com/auth/youtube"
	ScopeYouTubeUpload = "https://www.googleapis.com/auth/youtube.upload"
)

// Credentials is the long-lived OAuth client material for one run.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	Scopes       []string
}

// AuthError means the refresh token could not be exchanged. It is not retryable.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credentials: token refresh failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("credentials: token refresh failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Refresher exchanges the refresh token for short-lived access tokens and caches
// the result in memory. Concurrent refreshes collapse into a single round trip.
type Refresher struct {
	creds      Credentials
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

// NewRefresher creates a refresher. httpClient may be nil to use http.DefaultClient.
func NewRefresher(creds Credentials, httpClient *http.Client, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		creds: creds,
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Scopes:       creds.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  creds.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

// Token returns the cached access token, refreshing when absent or expired.
func (r *Refresher) Token(ctx context.Context) (*oauth2.Token, error) {
	r.mu.Lock()
	tok := r.token
	r.mu.Unlock()
	if tok.Valid() {
		return tok, nil
	}
	return r.Refresh(ctx)
}

// Refresh forces a round trip to the token endpoint.
func (r *Refresher) Refresh(ctx context.Context) (*oauth2.Token, error) {
	v, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return r.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// Invalidate drops the cached token so the next Token call refreshes.
func (r *Refresher) Invalidate() {
	r.mu.Lock()
	r.token = nil
	r.mu.Unlock()
}

func (r *Refresher) refresh(ctx context.Context) (*oauth2.Token, error) {
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	src := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: r.creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		authErr := &AuthError{Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			authErr.StatusCode = re.Response.StatusCode
		}
		r.logger.Error("token refresh failed", zap.Int("status", authErr.StatusCode), zap.Error(err))
		return nil, authErr
	}

	r.mu.Lock()
	r.token = tok
	r.mu.Unlock()
	r.logger.Info("access token refreshed", zap.Time("expiry", tok.Expiry))
	return tok, nil
}
