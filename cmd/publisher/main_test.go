package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-live/publisher/config"
	"github.com/aura-live/publisher/internal/auth"
	"github.com/aura-live/publisher/internal/credentials"
)

// offline points every remote endpoint at a server that counts hits.
func offline(t *testing.T) *int32 {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("YOUTUBE_CLIENT_ID", "id")
	t.Setenv("YOUTUBE_CLIENT_SECRET", "secret")
	t.Setenv("YOUTUBE_REFRESH_TOKEN", "refresh")
	t.Setenv("YOUTUBE_TOKEN_URL", srv.URL+"/token")
	t.Setenv("YOUTUBE_API_BASE_URL", srv.URL)
	t.Setenv("YT_PRIVACY_STATUS", "unlisted")
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AWS_S3_ARCHIVE_BUCKET", "")
	return &hits
}

func TestInvalidPrivacyFailsBeforeNetwork(t *testing.T) {
	hits := offline(t)
	t.Setenv("YT_PRIVACY_STATUS", "sometimes")

	err := run(context.Background(), []string{"stream", "loop.mp4", "0.01"}, &bytes.Buffer{})
	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "YT_PRIVACY_STATUS", cfgErr.Key)
	assert.True(t, strings.HasPrefix(fatalLine([]string{"stream"}, err), "[config] "))
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestMissingCredentialsFailBeforeNetwork(t *testing.T) {
	hits := offline(t)
	t.Setenv("YOUTUBE_REFRESH_TOKEN", "")

	for _, args := range [][]string{{"stream", "loop.mp4"}, {"upload", "final.mp4"}} {
		err := run(context.Background(), args, &bytes.Buffer{})
		var cfgErr *config.Error
		require.True(t, errors.As(err, &cfgErr), args[0])
		assert.Equal(t, "YOUTUBE_REFRESH_TOKEN", cfgErr.Key)
	}
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestInvalidDurationArgument(t *testing.T) {
	hits := offline(t)
	for _, arg := range []string{"abc", "0", "-2"} {
		err := run(context.Background(), []string{"stream", "loop.mp4", arg}, &bytes.Buffer{})
		var cfgErr *config.Error
		require.True(t, errors.As(err, &cfgErr), arg)
		assert.Equal(t, "duration_hours", cfgErr.Key)
	}
	assert.Zero(t, atomic.LoadInt32(hits))
}

func TestUsageErrors(t *testing.T) {
	offline(t)
	cases := [][]string{
		nil,
		{"transcode"},
		{"stream"},
		{"upload"},
		{"upload", "a.mp4", "b.mp4"},
		{"enqueue", "upload"},
		{"enqueue", "transcode", "a.mp4"},
		{"enqueue", "upload", "a.mp4", "2"},
		{"token"},
	}
	for _, args := range cases {
		err := run(context.Background(), args, &bytes.Buffer{})
		var ue *usageError
		assert.True(t, errors.As(err, &ue), "%v", args)
	}
}

func TestTokenMintsVerifiableJWT(t *testing.T) {
	offline(t)
	t.Setenv("JWT_SECRET", "s3cret")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"token", "ops", "viewer"}, &out))

	claims, err := auth.NewJWTService("s3cret", 1).Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.RoleViewer, claims.Role)
}

func TestTokenRequiresSecret(t *testing.T) {
	offline(t)
	t.Setenv("JWT_SECRET", "")

	err := run(context.Background(), []string{"token", "ops"}, &bytes.Buffer{})
	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "JWT_SECRET", cfgErr.Key)
}

func TestFatalLinePrefixes(t *testing.T) {
	authErr := &credentials.AuthError{StatusCode: 400, Err: errors.New("invalid_grant")}
	assert.True(t, strings.HasPrefix(fatalLine([]string{"upload"}, authErr), "[auth] Error: "))
	assert.True(t, strings.HasPrefix(fatalLine([]string{"stream"}, errors.New("boom")), "[broadcast] Error: boom"))
	assert.True(t, strings.HasPrefix(fatalLine(nil, errors.New("boom")), "[publisher] Error: boom"))
}
