// Package storage abstracts the durable object store so pipelines and tests
// can run against it without caring whether bytes land in S3 or in memory.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"certhub/internal/common"
)

// Disposition controls how a presigned GET asks the browser to handle the
// object.
type Disposition struct {
	// Attachment forces a download instead of inline display.
	Attachment bool
	// Filename is the download name offered to the client. Only meaningful
	// when Attachment is set.
	Filename string
}

// Store is the behavior the pipelines depend on.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration, d Disposition) (string, error)
}

// FetchToFile streams an object to a local path, creating or truncating it.
func FetchToFile(ctx context.Context, s Store, key, path string) error {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return common.WrapError(err, "create local file")
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return common.WrapError(err, "close local file")
	}
	return nil
}
