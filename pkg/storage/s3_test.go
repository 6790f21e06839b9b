package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type putRecord struct {
	bucket, key, contentType string
	length                   *int64
	body                     []byte
}

type fakeUploader struct {
	puts []putRecord
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, putRecord{
		bucket:      *in.Bucket,
		key:         *in.Key,
		contentType: *in.ContentType,
		length:      in.ContentLength,
		body:        body,
	})
	return &manager.UploadOutput{}, nil
}

type fakePresigner struct {
	key     string
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.key = *in.Key
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + f.key}, nil
}

func newTestArchive(up *fakeUploader, ps *fakePresigner, media bool) *Archive {
	return &Archive{
		uploader:  up,
		presigner: ps,
		cfg:       S3Config{Region: "eu-west-1", Bucket: "runs", ArchiveMedia: media},
		logger:    zap.NewNop(),
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "reports/abc.json", ReportKey("abc"))
	assert.Equal(t, "media/abc/final.mp4", MediaKey("abc", "/data/out/final.mp4"))
}

func TestArchiveReport(t *testing.T) {
	up := &fakeUploader{}
	a := newTestArchive(up, &fakePresigner{}, false)

	url, err := a.ArchiveReport(context.Background(), "run-1", map[string]string{"state": "finished"})
	require.NoError(t, err)
	assert.Equal(t, "https://runs.s3.eu-west-1.amazonaws.com/reports/run-1.json", url)

	require.Len(t, up.puts, 1)
	put := up.puts[0]
	assert.Equal(t, "runs", put.bucket)
	assert.Equal(t, "application/json", put.contentType)
	require.NotNil(t, put.length)
	assert.EqualValues(t, len(put.body), *put.length)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(put.body, &decoded))
	assert.Equal(t, "finished", decoded["state"])
}

func TestArchiveMedia(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video-bytes"), 0o600))

	up := &fakeUploader{}
	a := newTestArchive(up, &fakePresigner{}, true)
	assert.True(t, a.ArchivesMedia())

	url, err := a.ArchiveMedia(context.Background(), "run-2", src, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://runs.s3.eu-west-1.amazonaws.com/media/run-2/clip.mp4", url)
	require.Len(t, up.puts, 1)
	assert.Equal(t, []byte("video-bytes"), up.puts[0].body)
	assert.Equal(t, "video/mp4", up.puts[0].contentType)
}

func TestArchiveMediaMissingFile(t *testing.T) {
	a := newTestArchive(&fakeUploader{}, &fakePresigner{}, true)
	_, err := a.ArchiveMedia(context.Background(), "run-3", filepath.Join(t.TempDir(), "nope.mp4"), "video/mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestArchiveUploadError(t *testing.T) {
	boom := errors.New("access denied")
	a := newTestArchive(&fakeUploader{err: boom}, &fakePresigner{}, false)
	_, err := a.ArchiveReport(context.Background(), "run-4", struct{}{})
	assert.ErrorIs(t, err, boom)
}

func TestPresignReport(t *testing.T) {
	ps := &fakePresigner{}
	a := newTestArchive(&fakeUploader{}, ps, false)

	url, err := a.PresignReport(context.Background(), "run-5", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/reports/run-5.json", url)
	assert.Equal(t, DefaultPresignExpiry, ps.expires)
}

func TestNilArchiveDoesNotArchiveMedia(t *testing.T) {
	var a *Archive
	assert.False(t, a.ArchivesMedia())
}
