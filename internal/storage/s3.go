// Package storage ships non-image artifacts to S3-compatible object
// storage (MinIO, AWS S3) and hands out presigned download URLs.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/crucible-sh/crucible/internal/artifact"
	"github.com/crucible-sh/crucible/internal/config"
)

// PresignLifetime bounds how long an artifact URL stays valid.
const PresignLifetime = time.Hour

type S3Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ artifact.ObjectStore = (*S3Store)(nil)

func NewS3Store(cfg config.ObjectStoreConfig, logger *slog.Logger) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("bucket create: %w", err)
	}
	return nil
}

// Upload stores a local file under a user/session-scoped key and returns
// a presigned GET URL valid for PresignLifetime.
func (s *S3Store) Upload(ctx context.Context, localPath, objectName, userID, sessionID string) (string, error) {
	key := objectKey(userID, sessionID, objectName)

	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: artifact.MimeTypeByFilename(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("object upload: %w", err)
	}

	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, PresignLifetime, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}

	s.logger.Debug("artifact uploaded", "bucket", s.bucket, "key", key)
	return signed.String(), nil
}

// objectKey namespaces objects by user and session; the uuid segment
// keeps same-named artifacts from successive runs from colliding.
func objectKey(userID, sessionID, objectName string) string {
	return fmt.Sprintf("users/%s/sessions/%s/%s/%s", userID, sessionID, uuid.New().String()[:8], objectName)
}
