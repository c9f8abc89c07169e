// Package storage mirrors finished backups to an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/rs/zerolog/log"
)

const archiveContentType = "application/gzip"

// MinioMirror implements services.BackupMirror on MinIO or any S3 endpoint.
type MinioMirror struct {
	client     *minio.Client
	bucketName string
}

// NewMinioMirror connects to the configured endpoint and creates the bucket when it is missing.
// It returns nil without error when no endpoint is configured.
func NewMinioMirror(ctx context.Context, cfg config.MinioConfig) (*MinioMirror, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("Created backup mirror bucket")
	}

	log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("Backup mirror enabled")
	return &MinioMirror{client: client, bucketName: cfg.Bucket}, nil
}

// Upload copies the archive at path to key.
func (m *MinioMirror) Upload(ctx context.Context, key, path string) error {
	info, err := m.client.FPutObject(ctx, m.bucketName, key, path, minio.PutObjectOptions{ContentType: archiveContentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int64("size", info.Size).Msg("Uploaded backup to mirror")
	return nil
}

// Remove deletes one object. A missing object is not an error.
func (m *MinioMirror) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// RemovePrefix deletes every object whose key starts with prefix.
func (m *MinioMirror) RemovePrefix(ctx context.Context, prefix string) error {
	// Cancelling stops the lister goroutine when we return early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var errs []error
	for obj := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if err := m.Remove(ctx, obj.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
