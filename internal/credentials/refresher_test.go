package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, status int, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "refresh-me", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRefresher(url string) *Refresher {
	return NewRefresher(Credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-me",
		TokenURL:     url,
		Scopes:       []string{ScopeYouTube},
	}, nil, nil)
}

func TestTokenRefreshesOnceAndCaches(t *testing.T) {
	var calls int32
	srv := tokenServer(t, http.StatusOK, &calls)
	r := newTestRefresher(srv.URL)

	tok, err := r.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)

	_, err = r.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvalidateForcesRefresh(t *testing.T) {
	var calls int32
	srv := tokenServer(t, http.StatusOK, &calls)
	r := newTestRefresher(srv.URL)

	_, err := r.Token(context.Background())
	require.NoError(t, err)
	r.Invalidate()
	_, err = r.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRefreshFailureIsAuthError(t *testing.T) {
	var calls int32
	srv := tokenServer(t, http.StatusBadRequest, &calls)
	r := newTestRefresher(srv.URL)

	_, err := r.Token(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	assert.Contains(t, err.Error(), "credentials:")
}

func TestNetworkFailureIsAuthError(t *testing.T) {
	r := newTestRefresher("http://127.0.0.1:1/token")

	_, err := r.Refresh(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Zero(t, authErr.StatusCode)
}

func TestConcurrentTokenCallsSucceed(t *testing.T) {
	var calls int32
	srv := tokenServer(t, http.StatusOK, &calls)
	r := newTestRefresher(srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := r.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "access-1", tok.AccessToken)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(8))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}
