package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// FolderReports is the S3 prefix for run reports.
	FolderReports = "reports"
	// FolderMedia is the S3 prefix for archived source media.
	FolderMedia = "media"
	// DefaultPresignExpiry bounds presigned report links.
	DefaultPresignExpiry = 15 * time.Minute
)

// S3Config holds archive configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	ArchiveMedia    bool
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Archive stores run reports and, optionally, the uploaded media in S3.
type Archive struct {
	uploader  uploader
	presigner presigner
	cfg       S3Config
	logger    *zap.Logger
}

// NewArchive creates an S3 archive using static credentials when configured,
// otherwise the default AWS credential chain.
func NewArchive(ctx context.Context, cfg S3Config, logger *zap.Logger) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
		logger.Info("S3 archive using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.Bucket))
	} else {
		logger.Warn("S3 archive using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 16 * 1024 * 1024
	})
	return &Archive{
		uploader:  up,
		presigner: s3.NewPresignClient(client),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// ReportKey returns the object key for a run report: reports/{run_id}.json.
func ReportKey(runID string) string {
	return path.Join(FolderReports, runID+".json")
}

// MediaKey returns the object key for archived media: media/{run_id}/{basename}.
func MediaKey(runID, sourcePath string) string {
	return path.Join(FolderMedia, runID, filepath.Base(sourcePath))
}

// ArchivesMedia reports whether source media should be copied alongside reports.
func (a *Archive) ArchivesMedia() bool {
	return a != nil && a.cfg.ArchiveMedia
}

// ObjectURL returns the public-style URL for an object in the archive bucket.
func (a *Archive) ObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.cfg.Bucket, a.cfg.Region, key)
}

// ArchiveReport writes v as indented JSON under ReportKey(runID) and returns its URL.
func (a *Archive) ArchiveReport(ctx context.Context, runID string, v any) (string, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return a.put(ctx, ReportKey(runID), "application/json", bytes.NewReader(body), int64(len(body)))
}

// ArchiveMedia streams the file at sourcePath to MediaKey(runID, sourcePath).
func (a *Archive) ArchiveMedia(ctx context.Context, runID, sourcePath, contentType string) (string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat media: %w", err)
	}
	return a.put(ctx, MediaKey(runID, sourcePath), contentType, f, info.Size())
}

// PresignReport returns a time-limited GET URL for a run report.
func (a *Archive) PresignReport(ctx context.Context, runID string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = DefaultPresignExpiry
	}
	req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(ReportKey(runID)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

func (a *Archive) put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := a.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Info("archived object", zap.String("bucket", a.cfg.Bucket), zap.String("key", key), zap.Int64("bytes", size))
	return a.ObjectURL(key), nil
}
