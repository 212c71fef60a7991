package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"certhub/internal/common"
)

// MinioStore talks to any S3-compatible endpoint (Tigris, MinIO, AWS).
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore dials the endpoint described by cfg. It does not verify the
// bucket exists; the first operation will surface that.
func NewMinioStore(cfg common.StorageConfig, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, common.WrapError(err, "init s3 client")
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Error("storage.put.failed", "key", key, "error", err)
		return fmt.Errorf("put %s: %w", key, common.ErrStorage)
	}
	s.logger.Debug("storage.put", "key", key, "bytes", size, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, common.ErrStorage)
	}
	// GetObject is lazy; Stat forces the request so missing keys fail here,
	// not on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("get %s: %w", key, common.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, common.ErrStorage)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		s.logger.Error("storage.delete.failed", "key", key, "error", err)
		return fmt.Errorf("delete %s: %w", key, common.ErrStorage)
	}
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, common.ErrStorage)
	}
	return true, nil
}

func (s *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration, d Disposition) (string, error) {
	params := make(url.Values)
	if d.Attachment {
		name := d.Filename
		if name == "" {
			name = key
		}
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", name))
	} else {
		params.Set("response-content-disposition", "inline")
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, common.ErrStorage)
	}
	return u.String(), nil
}
